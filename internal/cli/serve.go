package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"payroll-bridge/internal/config"
	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/metrics"
	"payroll-bridge/internal/server"
)

// ServeCommand runs the operations API plus the background retry sweeper.
func ServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background retry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(promRegistry)

			d, err := openDeps(cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			d.engine = mapping.NewEngine(d.registry, mapping.WithObserver(m))

			processor := d.newProcessor()
			srv := &http.Server{
				Addr: cfg.Host + ":" + cfg.Port,
				Handler: server.New(d.engine, d.registry, serverRuleSets(d), d.queue, processor,
					promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Background sweeper.
			go func() {
				ticker := time.NewTicker(cfg.Retry.SweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						result, err := processor.ProcessRetryQueue(ctx, cfg.Retry.SweepLimit)
						if err != nil {
							log.Printf("serve: retry sweep: %v", err)
							continue
						}
						m.ObserveSweep(result)
						if stats, err := d.queue.GetStats(ctx, ""); err == nil {
							byStatus := make(map[string]int, len(stats.ByStatus))
							for status, n := range stats.ByStatus {
								byStatus[string(status)] = n
							}
							m.SetQueueDepth(byStatus)
						}
					}
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("serve: listening on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			log.Println("serve: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func serverRuleSets(d *deps) server.RuleSetStore {
	if d.ruleSets == nil {
		return nil
	}
	return d.ruleSets
}
