package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/costory/costory/internal/logic/usage"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/quota"
)

// UsageCmd creates the usage command
func UsageCmd() *cobra.Command {
	var logs int
	cmd := &cobra.Command{
		Use:   "usage <user-id>",
		Short: "Show a user's tier, monthly counters and recent billed generations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showUsage(cmd.Context(), args[0], logs)
		},
	}
	cmd.Flags().IntVarP(&logs, "logs", "n", 10, "number of usage log entries to show")
	return cmd
}

func showUsage(ctx context.Context, userID string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svcCtx, err := openService()
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	report, err := usage.NewUsageLogic(ctx, svcCtx, userID).GetUsage()
	if err != nil {
		return err
	}
	entries, err := svcCtx.DB.ListUsageLogs(ctx, userID, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{"usage": report, "logs": entries})
	}

	u := report.Usage
	fmt.Printf("User:     %s\n", userID)
	fmt.Printf("Tier:     %s (effective %s)\n", report.Tier, report.Effective)
	fmt.Printf("Month:    %s, resets in %d days\n", report.Month, report.DaysUntilReset)
	fmt.Printf("Words:    %d / %d (premium %d, free extra %d)\n", u.WordsGenerated, report.WordLimit, u.WordsPremium, u.WordsFreeExtra)
	fmt.Printf("Chapters: %d\n", u.ChaptersGenerated)
	fmt.Printf("Credits:  %s\n", report.Balance.StringFixed(4))

	if len(entries) == 0 {
		return nil
	}
	fmt.Println()
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed: " + e.ErrorMessage
		}
		fmt.Printf("  %s  %-6s %-40s in=%-6d out=%-6d $%s  %s\n",
			e.CreatedAt.Format(time.DateTime), e.SessionType, e.ModelUsed, e.TokensIn, e.TokensOut, e.PriceCharged.StringFixed(6), status)
	}
	return nil
}

// CreditsCmd creates the credits command
func CreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Adjust credit balances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <user-id> <amount>",
		Short: "Add (or with a negative amount, remove) credits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			balance, err := svcCtx.DB.AddCredits(context.Background(), args[0], amount)
			if err != nil {
				return err
			}
			fmt.Printf("Balance for %s: %s\n", args[0], balance.StringFixed(4))
			return nil
		},
	})
	return cmd
}

// SubscriptionCmd creates the subscription command
func SubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage subscription tiers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <user-id> <tier> <status>",
		Short: "Set a user's tier and subscription status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, status := quota.Tier(args[1]), args[2]
			if !tier.Known() {
				return fmt.Errorf("unknown tier %q", args[1])
			}
			if !quota.ValidStatus(status) {
				return fmt.Errorf("unknown status %q", status)
			}
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.DB.SetSubscription(context.Background(), args[0], string(tier), status); err != nil {
				return err
			}
			fmt.Printf("%s is now %s (%s)\n", args[0], tier, status)
			return nil
		},
	})
	return cmd
}

// TokenCmd creates the token command
func TokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign an access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ServerConfig.Auth.AccessSecret
			if secret == "" {
				return fmt.Errorf("auth.access_secret is empty")
			}
			token, err := middleware.SignToken(secret, args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
