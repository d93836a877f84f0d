package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"velvet/internal/config"
	"velvet/internal/coordinator"
	"velvet/internal/telemetry"
	"velvet/internal/types"
)

// wireEvent is the JSON-lines shape the capture adapters emit.
type wireEvent struct {
	Modality string                 `json:"modality"`
	Key      string                 `json:"key"`
	TsMs     int64                  `json:"ts_ms"`
	Payload  map[string]interface{} `json:"payload"`
}

// runCmd streams JSON-lines events from stdin through the engine and prints
// dispatched interventions to stdout.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against a JSON-lines event stream on stdin",
	Long: `Reads one event per line from stdin:

  {"modality":"text","key":"sarcasm_text","ts_ms":1692784000000,"payload":{"text":"Sure, fine."}}

Dispatched interventions are written to stdout as JSON. Use --metrics-addr
to expose /health, /metrics, /history, and /priorities for dashboards.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	engine, err := coordinator.NewEngine(cfg, nil)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	engine.Subscribe(func(iv types.Intervention) {
		_ = out.Encode(iv)
	})
	engine.SubscribeSeverity(func(ch types.SeverityChanged) {
		logger.Info("severity changed",
			zap.String("feature", ch.Feature),
			zap.String("from", ch.From.String()),
			zap.String("to", ch.To.String()))
	})

	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Stdin adapter: push events, never wait for detection.
	g.Go(func() error {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var we wireEvent
			if err := json.Unmarshal(scanner.Bytes(), &we); err != nil {
				logger.Debug("skipping unparseable line", zap.Error(err))
				continue
			}
			ts := time.UnixMilli(we.TsMs)
			if we.TsMs == 0 {
				ts = time.Time{}
			}
			if err := engine.PushEvent(types.Modality(we.Modality), we.Key, we.Payload, ts); err != nil {
				logger.Debug("event rejected", zap.String("key", we.Key), zap.Error(err))
			}
		}
		return scanner.Err()
	})

	// Optional telemetry endpoint.
	if metricsAddr != "" {
		srv := telemetry.NewServer(metricsAddr, engine)
		g.Go(func() error {
			logger.Info("telemetry listening", zap.String("addr", metricsAddr))
			return srv.ListenAndServe()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	m := engine.GetMetrics()
	fmt.Fprintf(os.Stderr, "processed=%d dispatched=%d deduped=%d dropped=%d rejected=%d\n",
		m.EventsProcessed, m.InterventionsDispatched, m.InterventionsDeduped,
		m.EventsDropped, m.EventsRejected)
	return nil
}
