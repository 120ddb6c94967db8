package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/costory/costory/internal/logic/ai"
	"github.com/costory/costory/internal/types"
)

// ModelsCmd creates the models command
func ModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog models with pool and pricing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModels(cmd.Context(), false)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch live pricing from the catalog endpoint and list models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModels(cmd.Context(), true)
		},
	})

	return cmd
}

func listModels(ctx context.Context, refresh bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svcCtx, err := openService()
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	if refresh {
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := svcCtx.Registry.RefreshPricing(rctx); err != nil {
			return err
		}
	}

	resp := ai.NewModelsLogic(ctx, svcCtx).ListModels()
	if jsonOut {
		return printJSON(resp)
	}
	printModels(resp)
	return nil
}

func printModels(resp *types.ListModelsResponse) {
	fmt.Printf("%-48s %-13s %10s %10s %9s\n", "MODEL", "POOL", "IN $/M", "OUT $/M", "CONTEXT")
	for _, m := range resp.Models {
		marker := " "
		if m.Id == resp.Default {
			marker = "*"
		}
		state := ""
		if m.RateLimited {
			state = "  (rate limited)"
		}
		fmt.Printf("%s%-47s %-13s %10s %10s %9d%s\n", marker, m.Id, m.Pool, m.InputPrice, m.OutputPrice, m.ContextWindow, state)
	}
	fmt.Printf("\n* default model\n")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
