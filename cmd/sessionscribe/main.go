// Command sessionscribe transcribes a tabletop session recording, attributes
// the speech to speakers and writes a markdown report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sessionscribe/internal/config"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/internal/report"
)

// cli is the command line. Exactly one of Audio and Transcript is accepted.
type cli struct {
	Audio          string   `short:"a" xor:"input" required:"" placeholder:"FILE" help:"Session recording to transcribe (.mp3, .wav, ...)."`
	Transcript     string   `short:"t" xor:"input" required:"" placeholder:"FILE" help:"Existing transcript to report on instead of audio."`
	Output         string   `short:"o" required:"" placeholder:"FILE" help:"Path of the markdown report."`
	DiarizedOutput string   `short:"d" placeholder:"FILE" help:"Also save the speaker-attributed transcript (audio input only)."`
	Names          []string `short:"n" placeholder:"A,B" help:"Comma-separated speaker names, assigned in diarization label order."`
	Config         string   `short:"c" placeholder:"FILE" help:"Optional YAML configuration file."`
	Title          string   `help:"Report title." default:"Session Report"`
}

// errHelp is returned by parseCLI after usage was printed on request.
var errHelp = errors.New("help requested")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c, err := parseCLI(args, stdout)
	if errors.Is(err, errHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "sessionscribe: %v (see --help)\n", err)
		return 1
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "sessionscribe: load .env: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(c.Config)
	if err != nil {
		fmt.Fprintf(stderr, "sessionscribe: %v\n", err)
		return 1
	}
	config.ApplyEnv(cfg, os.Getenv)

	slog.SetDefault(newLogger(cfg.LogLevel, stderr))

	if err := requireCredentials(cfg); err != nil {
		fmt.Fprintf(stderr, "sessionscribe: %v\n", err)
		return 1
	}
	if err := validatePaths(c); err != nil {
		fmt.Fprintf(stderr, "sessionscribe: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		fmt.Fprintf(stderr, "sessionscribe: init telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if err := execute(ctx, c, cfg, reg, metrics, tel.Gatherer(), stdout); err != nil {
		fmt.Fprintf(stderr, "sessionscribe: %v\n", err)
		return 1
	}
	return 0
}

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// parseCLI parses args into a cli. Usage is written to w.
func parseCLI(args []string, w io.Writer) (*cli, error) {
	var c cli
	exited := false
	parser, err := kong.New(&c,
		kong.Name("sessionscribe"),
		kong.Description("Transcribe and report on tabletop RPG session recordings or transcripts."),
		kong.Writers(w, w),
		kong.Exit(func(int) { exited = true }),
	)
	if err != nil {
		return nil, err
	}
	_, err = parser.Parse(args)
	if exited {
		return nil, errHelp
	}
	if err != nil {
		return nil, err
	}
	c.Names = parseNames(c.Names)
	return &c, nil
}

// parseNames trims the speaker names and drops empty entries, so
// `-n "Alice, Bob,"` yields [Alice Bob].
func parseNames(raw []string) []string {
	var names []string
	for _, r := range raw {
		for n := range strings.SplitSeq(r, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// requireCredentials fails when an OpenAI-backed provider is configured
// without a key, which with the default configuration means OPENAI_API_KEY
// must be set.
func requireCredentials(cfg *config.Config) error {
	entries := append([]config.ProviderEntry{cfg.Providers.STT, cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...)
	for _, e := range entries {
		if e.Name == "openai" && e.APIKey == "" {
			return fmt.Errorf("%s environment variable not found; set it in your environment or in a .env file", config.EnvOpenAIKey)
		}
	}
	return nil
}

// validatePaths checks that the input exists and that the output directories
// exist and are writable.
func validatePaths(c *cli) error {
	if c.Audio != "" {
		if err := checkInput("audio", c.Audio); err != nil {
			return err
		}
	}
	if c.Transcript != "" {
		if err := checkInput("transcript", c.Transcript); err != nil {
			return err
		}
	}
	if err := checkOutputDir("summary", c.Output); err != nil {
		return err
	}
	if c.DiarizedOutput != "" {
		if err := checkOutputDir("transcript", c.DiarizedOutput); err != nil {
			return err
		}
	}
	return nil
}

func checkInput(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s file not found: %s", kind, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%s file is a directory: %s", kind, path)
	}
	return nil
}

func checkOutputDir(kind, path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("directory for %s output does not exist: %s", kind, dir)
	}
	probe, err := os.CreateTemp(dir, ".sessionscribe-*")
	if err != nil {
		return fmt.Errorf("directory for %s output is not writable: %s", kind, dir)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// execute processes the input while serving the metrics gathered from g, if
// configured, until processing ends. A metrics server that cannot listen is
// logged and does not stop processing.
func execute(ctx context.Context, c *cli, cfg *config.Config, reg *config.Registry, m *observe.Metrics, g prometheus.Gatherer, stdout io.Writer) error {
	eg, egCtx := errgroup.WithContext(ctx)
	runCtx, done := context.WithCancel(egCtx)

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv := observe.NewMetricsServer(addr, m, g)
		eg.Go(func() error {
			slog.Info("serving metrics", "addr", addr)
			if err := observe.ServeMetrics(runCtx, srv); err != nil {
				slog.Error("metrics server failed, continuing without it", "addr", addr, "err", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer done()
		if c.Audio != "" {
			return processAudio(runCtx, c, cfg, reg, m, stdout)
		}
		return processTranscript(c, stdout)
	})

	return eg.Wait()
}

func processAudio(ctx context.Context, c *cli, cfg *config.Config, reg *config.Registry, m *observe.Metrics, stdout io.Writer) error {
	p, err := buildPipeline(cfg, reg, m)
	if err != nil {
		return err
	}

	slog.Info("processing audio file", "path", c.Audio, "speakers", c.Names)
	res, err := p.RunDetailed(ctx, c.Audio, c.Names)
	if err != nil {
		return err
	}

	if c.DiarizedOutput != "" {
		if err := os.WriteFile(c.DiarizedOutput, []byte(res.Diarized), 0o644); err != nil {
			return fmt.Errorf("write diarized transcript: %w", err)
		}
		fmt.Fprintf(stdout, "Diarized transcript saved to: %s\n", c.DiarizedOutput)
	}

	r := report.FromSegments(report.Metadata{
		Title:       c.Title,
		Source:      c.Audio,
		Transcriber: cfg.Providers.STT.Name,
		Aligner:     cfg.Providers.LLM.Name,
		Generated:   time.Now(),
		Elapsed:     res.Elapsed,
		Corrections: len(res.Corrections),
	}, res.Segments, res.Diarized, res.Transcript)
	return writeReport(c.Output, r, stdout)
}

func processTranscript(c *cli, stdout io.Writer) error {
	if c.DiarizedOutput != "" {
		slog.Warn("diarized output is only written for audio input", "path", c.DiarizedOutput)
	}
	if len(c.Names) > 0 {
		slog.Info("speaker names are ignored for transcript input", "names", c.Names)
	}

	slog.Info("processing transcript file", "path", c.Transcript)
	text, err := os.ReadFile(c.Transcript)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	r := report.FromTranscript(report.Metadata{
		Title:     c.Title,
		Source:    c.Transcript,
		Generated: time.Now(),
	}, string(text))
	return writeReport(c.Output, r, stdout)
}

func writeReport(path string, r *report.Report, stdout io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.Render(f, r); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	fmt.Fprintf(stdout, "Summary saved to: %s\n", path)
	return nil
}

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Level()}))
}
