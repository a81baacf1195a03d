package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/server"
)

// ServerCmd serves the trigger API and runs the Pulse daemon in the same process
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the HTTP trigger server",
	Long: `Serve the job and Pulse trigger API over HTTP and run the sweep and
monitor tickers alongside it. Use --no-daemon when an external scheduler
calls POST /api/pulse/sweep and /api/pulse/monitor instead.`,
	RunE: runServer,
}

var serverNoDaemon bool

func init() {
	ServerCmd.Flags().BoolVar(&serverNoDaemon, "no-daemon", false, "Do not run sweep and monitor tickers in-process")
}

func runServer(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, svc, err := openService(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open job runtime")
	}
	defer svc.Close()

	printStartupBanner(cfg, verbosity, !serverNoDaemon)

	if !serverNoDaemon {
		svc.StartDaemon(ctx)
	}

	srv := server.New(svc, cfg.Server, logger.Logger.Named("server"))
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(ctx)
	}()

	// GRACE: first signal drains, second forces exit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
		cancel()

		select {
		case err := <-errChan:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
