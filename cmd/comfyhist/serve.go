package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/promptvault/comfyhistory/plugin"
)

func newServeCommand(configFlag *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the standalone history HTTP server",
		Long: `Serve exposes the history endpoints without a ComfyUI process: saved
prompt listing and retrieval, output image browsing, and save_now.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging.Level, debug)

			if err := os.MkdirAll(cfg.Paths.PromptsDir, 0o755); err != nil {
				return fmt.Errorf("create prompts dir: %w", err)
			}
			lockPath := filepath.Join(cfg.Paths.PromptsDir, "comfyhist.lock")
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another history server is already running")
			}
			defer func() {
				if uerr := lock.Unlock(); uerr != nil {
					logger.Warn("failed to release server lock", "error", uerr)
				}
			}()

			mux := http.NewServeMux()
			_, err = plugin.Register(nil, plugin.MuxRouter{Mux: mux}, plugin.Options{
				PromptsDir: cfg.Paths.PromptsDir,
				OutputDir:  cfg.Paths.OutputDir,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Paths.Bind,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("history server listening", "bind", cfg.Paths.Bind, "lock", lockPath)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("history server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
