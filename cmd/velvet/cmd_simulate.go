package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"velvet/internal/config"
	"velvet/internal/coordinator"
	"velvet/internal/types"
)

// simulateCmd drives the full pipeline with synthetic signals so the engine
// can be exercised without the capture services.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed a synthetic scenario through the engine",
	Long: `Runs a scripted scenario: an app-switching storm, sarcastic text with
flat vocal delivery, and masked polite language, then prints the dispatched
interventions and final metrics.`,
	RunE: runSimulation,
}

func runSimulation(cmd *cobra.Command, args []string) error {
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

	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Shutdown()

	now := time.Now()

	// App-switching storm: 24 focus changes across distinct apps in the
	// last few minutes.
	apps := []string{"mail", "slack", "browser", "editor", "terminal", "calendar"}
	for i := 0; i < 24; i++ {
		_ = engine.PushEvent(types.ModalityWindow, "window_focus", map[string]interface{}{
			"app": fmt.Sprintf("%s-%d", apps[i%len(apps)], i),
		}, now.Add(-time.Duration(24-i)*5*time.Second))
	}

	// Sarcastic text plus flat, positive-worded delivery.
	_ = engine.PushEvent(types.ModalityText, "sarcasm_text", map[string]interface{}{
		"text": "Sure, that's fine, whatever works.",
	}, now)
	_ = engine.PushEvent(types.ModalityAudio, "sarcasm_audio", map[string]interface{}{
		"flatness":       0.8,
		"energy":         0.2,
		"pitch_variance": 0.1,
		"positive_text":  true,
	}, now)

	// Masked politeness after a long day.
	_ = engine.PushEvent(types.ModalityText, "masking_text", map[string]interface{}{
		"text": "Of course, absolutely, happy to take that on.",
	}, now)

	// Let a few batch ticks run.
	time.Sleep(time.Second)

	m := engine.GetMetrics()
	fmt.Fprintf(os.Stderr, "simulate: processed=%d detections=%d dispatched=%d unified=%d\n",
		m.EventsProcessed, m.DetectionsFired, m.InterventionsDispatched, m.UnifiedInterventions)
	return nil
}
