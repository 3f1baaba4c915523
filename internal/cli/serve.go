package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				serverCfg.Addr = addr
			}
			if err := serverCfg.Validate(); err != nil {
				return err
			}
			log := logging.Component(logger, "cli")

			st, err := openStore(cmd.Context(), serverCfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()
			log.Info("database ready", "path", serverCfg.DBPath)

			srv := server.New(serverCfg, st, logger)
			httpServer := &http.Server{
				Addr:              serverCfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("server starting", "addr", serverCfg.Addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-cmd.Context().Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8080)")
	return cmd
}
