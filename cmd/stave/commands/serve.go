package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/stave/internal/gateway"
	"github.com/dyluth/stave/internal/printer"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve <project-id>",
	Short: "Serve a local gateway for a project session",
	Long: `Join a project and expose the live session over HTTP for a local UI.

Endpoints:
  GET  /healthz     relay reachability and project status
  GET  /api/state   full project state
  GET  /api/stats   aggregate statistics and structural problems
  POST /api/retry   reload the project after a failed load
  GET  /ws          websocket stream of session events

If the project cannot be loaded the gateway still starts; fix the cause
and POST /api/retry.

Examples:
  stave serve <project-id>
  stave serve <project-id> --addr 0.0.0.0:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to gateway.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Gateway.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.transport.ConnectGeneral(ctx); err != nil {
		printer.Warning("general channel not connected yet, retrying in background: %v\n", err)
	}
	if err := a.session.Open(ctx, projectID); err != nil {
		printer.Warning("project %s not loaded: %v\n", projectID, err)
		printer.Info("POST /api/retry once the problem is fixed\n")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           gateway.New(a.bus, a.session, a.relay).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	printer.Success("Serving project %s on http://%s\n", projectID, addr)

	select {
	case err := <-errCh:
		if err != nil {
			return printer.ErrorWithContext(
				"gateway failed",
				err.Error(),
				map[string]string{"Address": addr},
				[]string{"Pick a free address with --addr or gateway.addr"},
			)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		printer.Warning("gateway shutdown: %v\n", err)
	}
	printer.Info("Stopped\n")
	return nil
}
