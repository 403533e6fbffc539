package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pders01/snapsync/internal/config"
	"github.com/pders01/snapsync/internal/engine"
	"github.com/pders01/snapsync/internal/gateway"
	"github.com/pders01/snapsync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var runMetricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily refresh loop and meal reminders",
	Long: `Stay in the foreground, refreshing local state at every UTC midnight and
sending meal reminders when nothing has been logged.

Reminders are written to the log. Other snapsync commands keep working while
it runs; a capture uploaded from another shell counts for the next reminder.
Stop with Ctrl-C.

Examples:
  snapsync run
  snapsync run --metrics-addr :9090`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := openEngine(reg)
	if err != nil {
		return err
	}
	defer e.Close()

	if runMetricsAddr != "" {
		srv := &http.Server{
			Addr:              runMetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Printf("Serving metrics on %s/metrics\n", runMetricsAddr)
	}

	if !gateway.IsAvailable(e.Gateway().BaseURL()) {
		fmt.Fprintf(os.Stderr, "Warning: %s is not reachable, requests will be retried for up to %s\n",
			e.Gateway().BaseURL(), transport.Config{BaseDelay: config.GetBaseDelay(), MaxAttempts: config.GetMaxAttempts()}.WorstCase())
	}

	done, err := e.Start(ctx)
	if err != nil {
		return err
	}

	go watchEngine(ctx, e)
	go func() {
		if _, err := e.FetchToday(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("initial fetch failed", "error", userError(err))
		}
	}()

	fmt.Println("snapsync running, press Ctrl-C to stop")
	<-done
	fmt.Println("\nStopped")
	return nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// watchEngine logs record updates until ctx is cancelled
func watchEngine(ctx context.Context, e *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case records := <-e.Records():
			slog.Info("records updated", "count", len(records))
		case loading := <-e.Loading():
			slog.Debug("loading", "active", loading)
		}
	}
}
