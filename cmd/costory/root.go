package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/costory/costory/internal/config"
	"github.com/costory/costory/internal/server"
	"github.com/costory/costory/internal/svc"
)

// ServeCmd creates the serve command
func ServeCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  `Start the CoStory API server. This is also what a bare 'costory' runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeWith(cmd.Context(), quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress access logs")
	return cmd
}

func runServe(ctx context.Context) error {
	return runServeWith(ctx, false)
}

// runServeWith owns the service context so shutdown drains detached billing
// before the database closes.
func runServeWith(parent context.Context, quiet bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := *ServerConfig
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("auth.access_secret is empty: set COSTORY_ACCESS_SECRET")
	}

	svcCtx, err := svc.NewServiceContext(c)
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	printStartupBanner(c)
	err = server.Run(ctx, c, server.ServerOptions{SvcCtx: svcCtx, Quiet: quiet})
	fmt.Println("\n\033[32mCoStory stopped.\033[0m")
	return err
}

// printStartupBanner prints a short startup message
func printStartupBanner(c config.Config) {
	fmt.Println()
	fmt.Printf("  \033[1;32mCoStory is running\033[0m\n")
	fmt.Printf("  \033[1;36m→\033[0m API: \033[4;34mhttp://%s/api\033[0m\n", c.Addr())
	fmt.Println()
	fmt.Println("  \033[2mPress Ctrl+C to stop\033[0m")
	fmt.Println()
}

// openService builds the service context for one-shot commands. Background
// jobs are not started.
func openService() (*svc.ServiceContext, error) {
	return svc.NewServiceContext(*ServerConfig)
}
