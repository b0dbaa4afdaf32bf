// Command voxstitch is the entry point for the voxstitch synthesis service.
//
// Usage:
//
//	voxstitch [-config file] [-env file] <command> [flags] [args]
//
// Commands:
//
//	serve                       warm the voice cache and serve the ops endpoints
//	synth  -voice v -o out.wav  synthesise text into a WAV file
//	stream -voice v -o out      stream text as encoded segments (default stdout)
//	voices                      list available voices
//	combine a b [c...]          average voices into a new one
//
// Text for synth and stream is taken from the remaining arguments, or from
// stdin when there are none.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/voxstitch/internal/app"
	"github.com/MrWong99/voxstitch/internal/config"
	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/internal/synth"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the environment overrides")
	flag.Usage = usage
	flag.Parse()

	cmd := "serve"
	args := flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	// A missing dotenv file is normal outside development.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxstitch: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxstitch: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Registry:    promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Model backend ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinModels(reg, cfg.Synthesis.SampleRate)
	m, err := app.BuildModel(cfg.Model, reg)
	if err != nil {
		slog.Error("failed to build model backend", "err", err)
		return 1
	}

	application, err := app.New(cfg, m,
		app.WithLevelVar(level),
		app.WithPrometheusRegistry(promReg),
		app.WithCloser(shutdownTelemetry),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	switch cmd {
	case "serve":
		err = serve(ctx, application, cfg, *configPath)
	case "synth":
		err = synthCmd(ctx, application.Service(), args)
	case "stream":
		err = streamCmd(ctx, application.Service(), args)
	case "voices":
		for _, name := range application.Service().ListVoices(ctx) {
			fmt.Println(name)
		}
	case "combine":
		var name string
		name, err = application.Service().CombineVoices(ctx, args)
		if err == nil {
			fmt.Println(name)
		}
	default:
		fmt.Fprintf(os.Stderr, "voxstitch: unknown command %q\n", cmd)
		usage()
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(cmd+" failed", "err", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: voxstitch [flags] serve|synth|stream|voices|combine [args]\n\n")
	flag.PrintDefaults()
}

// loadConfig reads path, or falls back to defaults plus environment overrides
// when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	return config.LoadFromReader(strings.NewReader(""))
}

// ── Commands ──────────────────────────────────────────────────────────────────

// serve runs the application until a signal arrives, applying config file
// changes as they happen. SIGHUP forces a reload.
func serve(ctx context.Context, a *app.App, cfg *config.Config, configPath string) error {
	printStartupSummary(cfg, configPath)

	if _, err := os.Stat(configPath); err == nil {
		w, err := config.NewWatcher(configPath, a.ApplyConfig)
		if err != nil {
			return err
		}
		go w.Run(ctx)

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading config", "changed", w.Reload())
				}
			}
		}()
	}

	err := a.Run(ctx)
	slog.Info("shutdown signal received, stopping…")
	return err
}

// synthFlags are shared by synth and stream.
type synthFlags struct {
	voice    string
	speed    float64
	out      string
	format   string
	noStitch bool
}

func parseSynthFlags(name string, args []string) (synthFlags, string, error) {
	var f synthFlags
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.StringVar(&f.voice, "voice", "", "voice name (required)")
	fset.Float64Var(&f.speed, "speed", 1, "speaking rate factor")
	fset.StringVar(&f.out, "o", "", "output file (stream: default stdout)")
	if name == "stream" {
		fset.StringVar(&f.format, "format", "", "container: wav or pcm (default from config)")
	} else {
		fset.BoolVar(&f.noStitch, "no-stitch", false, "send the whole text to the model as one unit")
	}
	if err := fset.Parse(args); err != nil {
		return f, "", err
	}

	text := strings.Join(fset.Args(), " ")
	if text == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return f, "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	return f, text, nil
}

func synthCmd(ctx context.Context, svc *synth.Service, args []string) error {
	f, text, err := parseSynthFlags("synth", args)
	if err != nil {
		return err
	}
	if f.out == "" {
		return errors.New("synth: -o is required")
	}

	res, err := svc.Complete(ctx, synth.Request{
		Text:             text,
		Voice:            f.voice,
		Speed:            f.speed,
		DisableStitching: f.noStitch,
	})
	if err != nil {
		return err
	}

	data, err := encode.Chunk(encode.FormatWAV, audio.FloatToPCM16(res.Audio.Samples, 1),
		res.Audio.SampleRate, encode.First|encode.Last)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.out, data, 0o644); err != nil {
		return err
	}
	slog.Info("wrote audio",
		"file", f.out,
		"duration", res.Audio.Duration(),
		"chunks", res.Chunks,
		"skipped", res.Skipped,
		"elapsed", res.ProcessingTime,
	)
	return nil
}

func streamCmd(ctx context.Context, svc *synth.Service, args []string) (err error) {
	f, text, err := parseSynthFlags("stream", args)
	if err != nil {
		return err
	}
	var format encode.Format
	if f.format != "" {
		if format, err = encode.ParseFormat(f.format); err != nil {
			return err
		}
	}

	var w io.Writer = os.Stdout
	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = file
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	segs, err := svc.Stream(ctx, synth.Request{Text: text, Voice: f.voice, Speed: f.speed, Format: format})
	if err != nil {
		return err
	}

	var n, bytes int
	for seg := range segs {
		if _, err := w.Write(seg.Data); err != nil {
			cancel()
			audio.Drain(segs)
			return fmt.Errorf("write segment %d: %w", seg.Index, err)
		}
		n++
		bytes += len(seg.Data)
		slog.Debug("segment written", "index", seg.Index, "position", seg.Position, "bytes", len(seg.Data))
	}
	slog.Info("stream finished", "segments", n, "bytes", bytes)
	return ctx.Err()
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, configPath string) {
	model := cfg.Model.Name
	if n := len(cfg.Model.Fallbacks); n > 0 {
		model = fmt.Sprintf("%s (+%d fallback)", model, n)
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voxstitch — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Config", configPath)
	printRow("Model", model)
	printRow("Voice dir", cfg.Voices.Dir)
	printRow("Voice cache", fmt.Sprintf("%d voices", cfg.Voices.CacheSize))
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Synthesis.SampleRate))
	printRow("Stream format", cfg.Synthesis.DefaultFormat)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = "…" + value[len(value)-18:]
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
