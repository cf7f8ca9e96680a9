// CLI for tempo and beat analysis of audio files, plus the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-beat/algorithms/beat"
	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/logging"
	"github.com/RyanBlaney/sonido-beat/rhythm"
	"github.com/RyanBlaney/sonido-beat/rhythm/config"
	"github.com/RyanBlaney/sonido-beat/server"
	"github.com/RyanBlaney/sonido-beat/transcode"
)

var rootCmd = &cobra.Command{
	Use:           "sonido-beat",
	Short:         "Tempo estimation and beat tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		setupLogging(level)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Estimate tempo and track beats, printing JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		units, _ := cmd.Flags().GetString("units")
		return runAnalyze(cmd.Context(), cmd.OutOrStdout(), args[0], cfg, beat.Units(units))
	},
}

var tempogramCmd = &cobra.Command{
	Use:   "tempogram <file>",
	Short: "Print Fourier tempogram peaks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runTempogram(cmd.OutOrStdout(), args[0], cfg)
	},
}

var followCmd = &cobra.Command{
	Use:   "follow <file>",
	Short: "Track tempo chunk by chunk as a live stream would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		chunk, _ := cmd.Flags().GetDuration("chunk")
		return runFollow(cmd.OutOrStdout(), args[0], cfg, chunk)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP analysis server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Server.Timeout, _ = cmd.Flags().GetDuration("timeout")
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "JSON analysis config file")
	rootCmd.PersistentFlags().String("log-level", "off", "Log level: debug, info, warn, error or off")
	rootCmd.PersistentFlags().Int("hop", 512, "Onset envelope hop length in samples")
	rootCmd.PersistentFlags().Float64("start-bpm", 120, "Initial tempo guess")
	rootCmd.PersistentFlags().String("strategy", string(temporal.StrategyRaw), "Tempo strategy: raw, prior or genre")
	rootCmd.PersistentFlags().String("backend", string(spectral.DefaultBackend), "Transform backend: godsp, gonum, algofft or direct")

	analyzeCmd.Flags().Float64("tightness", 100, "Beat spacing tightness")
	analyzeCmd.Flags().Bool("no-trim", false, "Keep weak leading and trailing beats")
	analyzeCmd.Flags().String("units", string(beat.UnitsTime), "Beat units: frames, samples or time")
	analyzeCmd.Flags().BoolP("quick", "q", false, "Analyze only 8 beats from the rhythm start")
	analyzeCmd.Flags().Bool("plp", false, "Include the predominant local pulse curve")

	followCmd.Flags().Duration("chunk", 10*time.Second, "Chunk length")

	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Per-request analysis timeout")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(tempogramCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	if level == "" || level == "off" {
		return
	}
	logger := logging.NewDefaultLogger()
	logger.SetLevel(logging.ParseLevel(level))
	logging.SetGlobalLogger(logger)
}

// loadConfig reads --config, then applies any flag the user set explicitly
func loadConfig(cmd *cobra.Command) (*config.AnalysisConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("hop") {
		cfg.HopLength, _ = flags.GetInt("hop")
	}
	if flags.Changed("start-bpm") {
		cfg.StartBPM, _ = flags.GetFloat64("start-bpm")
	}
	if flags.Changed("strategy") {
		name, _ := flags.GetString("strategy")
		cfg.TempoStrategy = temporal.ParseStrategy(name)
	}
	if flags.Changed("backend") {
		name, _ := flags.GetString("backend")
		cfg.Backend = spectral.ParseBackend(name)
	}
	if flags.Lookup("tightness") != nil && flags.Changed("tightness") {
		cfg.Tightness, _ = flags.GetFloat64("tightness")
	}
	if flags.Lookup("no-trim") != nil && flags.Changed("no-trim") {
		noTrim, _ := flags.GetBool("no-trim")
		cfg.Trim = !noTrim
	}
	if flags.Lookup("quick") != nil && flags.Changed("quick") {
		cfg.QuickDetect, _ = flags.GetBool("quick")
	}
	if flags.Lookup("plp") != nil && flags.Changed("plp") {
		cfg.EnablePLP, _ = flags.GetBool("plp")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string) (*transcode.AudioData, error) {
	audio, err := transcode.NewDecoder(nil).DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return audio, nil
}

func runAnalyze(ctx context.Context, out io.Writer, path string, cfg *config.AnalysisConfig, units beat.Units) error {
	audio, err := decodeFile(path)
	if err != nil {
		return err
	}

	analyzer, err := rhythm.NewAnalyzer(cfg)
	if err != nil {
		return err
	}
	analysis, err := analyzer.Analyze(ctx, audio)
	if err != nil {
		return err
	}

	switch units {
	case beat.UnitsTime:
	case beat.UnitsFrames, beat.UnitsSamples:
		analysis.Beats = make([]float64, len(analysis.BeatFrames))
		for i, f := range analysis.BeatFrames {
			analysis.Beats[i] = float64(f)
			if units == beat.UnitsSamples {
				analysis.Beats[i] *= float64(cfg.HopLength)
			}
		}
	default:
		return fmt.Errorf("unknown units %q", units)
	}

	return writeJSON(out, analysis)
}

func runTempogram(out io.Writer, path string, cfg *config.AnalysisConfig) error {
	audio, err := decodeFile(path)
	if err != nil {
		return err
	}

	envelope, err := temporal.NewOnsetDetector(temporal.OnsetConfig{
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		Backend:     cfg.Backend,
	}).OnsetStrength(audio.PCM, audio.SampleRate)
	if err != nil {
		return err
	}

	analyzer, err := rhythm.NewAnalyzer(cfg)
	if err != nil {
		return err
	}
	summary, err := analyzer.Tempogram(envelope.Values, audio.SampleRate)
	if err != nil {
		return err
	}
	return writeJSON(out, summary)
}

type followStep struct {
	Start      float64 `json:"start"` // seconds
	BPM        float64 `json:"bpm"`
	Confidence float64 `json:"confidence"`
	Stability  float64 `json:"stability"`
}

func runFollow(out io.Writer, path string, cfg *config.AnalysisConfig, chunk time.Duration) error {
	if chunk <= 0 {
		return errors.New("chunk must be positive")
	}

	audio, err := decodeFile(path)
	if err != nil {
		return err
	}

	detector := temporal.NewOnsetDetector(temporal.OnsetConfig{
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		Backend:     cfg.Backend,
	})
	session, err := beat.NewTrackingSession(audio.SampleRate, cfg.HopLength, 0)
	if err != nil {
		return err
	}

	size := int(chunk.Seconds() * float64(audio.SampleRate))
	if size <= 0 {
		return fmt.Errorf("chunk %s is shorter than one sample at %d Hz", chunk, audio.SampleRate)
	}

	var steps []followStep
	for start := 0; start < len(audio.PCM); start += size {
		end := min(len(audio.PCM), start+size)
		envelope, err := detector.OnsetStrength(audio.PCM[start:end], audio.SampleRate)
		if err != nil {
			return err
		}
		result, err := session.Update(envelope.Values)
		if err != nil {
			return err
		}
		steps = append(steps, followStep{
			Start:      float64(start) / float64(audio.SampleRate),
			BPM:        result.BPM,
			Confidence: result.Confidence,
			Stability:  session.Stability(),
		})
	}

	return writeJSON(out, steps)
}

func runServe(ctx context.Context, cfg *config.AnalysisConfig) error {
	srv, err := server.New(cfg, nil)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
