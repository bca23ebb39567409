package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/sessionscribe/internal/config"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/internal/resilience"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{name: "nil", raw: nil, want: nil},
		{name: "single flag value", raw: []string{"Alice", "Bob"}, want: []string{"Alice", "Bob"}},
		{name: "spaces trimmed", raw: []string{" Alice", " Bob "}, want: []string{"Alice", "Bob"}},
		{name: "empties dropped", raw: []string{"Alice", "", " "}, want: []string{"Alice"}},
		{name: "unsplit value", raw: []string{"Alice, Bob"}, want: []string{"Alice", "Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := parseNames(tt.raw); !slices.Equal(got, tt.want) {
				t.Errorf("parseNames(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseCLI(t *testing.T) {
	t.Parallel()

	t.Run("short flags", func(t *testing.T) {
		t.Parallel()
		c, err := parseCLI([]string{"-a", "s.mp3", "-o", "out.md", "-d", "d.txt", "-n", "Alice, Bob"}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("parseCLI: %v", err)
		}
		if c.Audio != "s.mp3" || c.Output != "out.md" || c.DiarizedOutput != "d.txt" {
			t.Errorf("unexpected flags: %+v", c)
		}
		if !slices.Equal(c.Names, []string{"Alice", "Bob"}) {
			t.Errorf("Names = %q", c.Names)
		}
		if c.Title != "Session Report" {
			t.Errorf("Title = %q, want default", c.Title)
		}
	})

	t.Run("long flags", func(t *testing.T) {
		t.Parallel()
		c, err := parseCLI([]string{"--transcript", "t.txt", "--output", "out.md", "--config", "c.yaml"}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("parseCLI: %v", err)
		}
		if c.Transcript != "t.txt" || c.Config != "c.yaml" {
			t.Errorf("unexpected flags: %+v", c)
		}
	})

	errCases := []struct {
		name string
		args []string
	}{
		{name: "both inputs", args: []string{"-a", "s.mp3", "-t", "t.txt", "-o", "out.md"}},
		{name: "no input", args: []string{"-o", "out.md"}},
		{name: "no output", args: []string{"-a", "s.mp3"}},
		{name: "unknown flag", args: []string{"-a", "s.mp3", "-o", "out.md", "--loud"}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseCLI(tt.args, &bytes.Buffer{}); err == nil || errors.Is(err, errHelp) {
				t.Errorf("parseCLI(%q) err = %v, want parse error", tt.args, err)
			}
		})
	}

	t.Run("help", func(t *testing.T) {
		t.Parallel()
		var out bytes.Buffer
		_, err := parseCLI([]string{"--help"}, &out)
		if !errors.Is(err, errHelp) {
			t.Fatalf("err = %v, want errHelp", err)
		}
		if !strings.Contains(out.String(), "--diarized-output") {
			t.Errorf("usage does not list --diarized-output:\n%s", out.String())
		}
	})
}

func TestValidatePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	audio := writeFile(t, filepath.Join(dir, "session.mp3"), "RIFF")
	transcript := writeFile(t, filepath.Join(dir, "session.txt"), "GM: hi")
	missingDir := filepath.Join(dir, "nope")
	t.Cleanup(func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".sessionscribe-") {
				t.Errorf("write probe %q left behind", e.Name())
			}
		}
	})

	tests := []struct {
		name    string
		cli     cli
		wantErr string
	}{
		{
			name: "audio ok",
			cli:  cli{Audio: audio, Output: filepath.Join(dir, "out.md"), DiarizedOutput: filepath.Join(dir, "d.txt")},
		},
		{
			name: "transcript ok",
			cli:  cli{Transcript: transcript, Output: filepath.Join(dir, "out.md")},
		},
		{
			name:    "audio missing",
			cli:     cli{Audio: filepath.Join(dir, "missing.mp3"), Output: filepath.Join(dir, "out.md")},
			wantErr: "audio file not found",
		},
		{
			name:    "transcript missing",
			cli:     cli{Transcript: filepath.Join(dir, "missing.txt"), Output: filepath.Join(dir, "out.md")},
			wantErr: "transcript file not found",
		},
		{
			name:    "input is a directory",
			cli:     cli{Audio: dir, Output: filepath.Join(dir, "out.md")},
			wantErr: "is a directory",
		},
		{
			name:    "summary dir missing",
			cli:     cli{Audio: audio, Output: filepath.Join(missingDir, "out.md")},
			wantErr: "directory for summary output does not exist",
		},
		{
			name:    "diarized dir missing",
			cli:     cli{Audio: audio, Output: filepath.Join(dir, "out.md"), DiarizedOutput: filepath.Join(missingDir, "d.txt")},
			wantErr: "directory for transcript output does not exist",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validatePaths(&tt.cli)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validatePaths: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

}

func TestRequireCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "default without key", mutate: func(*config.Config) {}, wantErr: true},
		{
			name: "default with key",
			mutate: func(c *config.Config) {
				c.Providers.STT.APIKey = "sk"
				c.Providers.LLM.APIKey = "sk"
			},
		},
		{
			name: "local providers need no key",
			mutate: func(c *config.Config) {
				c.Providers.STT = config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}
				c.Providers.LLM = config.ProviderEntry{Name: "ollama", Model: "llama3"}
			},
		},
		{
			name: "openai fallback without key",
			mutate: func(c *config.Config) {
				c.Providers.STT = config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}
				c.Providers.LLM = config.ProviderEntry{Name: "ollama", Model: "llama3"}
				c.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "openai"}}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := requireCredentials(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requireCredentials err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "OPENAI_API_KEY") {
				t.Errorf("error %q does not name OPENAI_API_KEY", err)
			}
		})
	}
}

func TestBuildLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	t.Run("none configured", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Providers.LLM = config.ProviderEntry{}
		p, err := buildLLM(cfg, reg)
		if err != nil || p != nil {
			t.Fatalf("buildLLM = %v, %v; want nil, nil", p, err)
		}
	})

	t.Run("with fallbacks", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Providers.LLM = config.ProviderEntry{Name: "openai", APIKey: "sk"}
		cfg.Providers.LLMFallbacks = []config.ProviderEntry{
			{Name: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"},
		}
		p, err := buildLLM(cfg, reg)
		if err != nil {
			t.Fatalf("buildLLM: %v", err)
		}
		fb, ok := p.(*resilience.LLMFallback)
		if !ok {
			t.Fatalf("buildLLM returned %T, want *resilience.LLMFallback", p)
		}
		if got := fb.Names(); !slices.Equal(got, []string{"openai", "ollama"}) {
			t.Errorf("Names() = %q", got)
		}
	})

	t.Run("unknown fallback", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Providers.LLM = config.ProviderEntry{Name: "openai", APIKey: "sk"}
		cfg.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "nope"}}
		if _, err := buildLLM(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}

func TestBuildPipeline(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := config.Default()
	config.ApplyEnv(cfg, func(key string) string { return "test-" + key })
	if _, err := buildPipeline(cfg, reg, observe.DefaultMetrics()); err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}

	cfg.Providers.Diarization.Name = "nope"
	if _, err := buildPipeline(cfg, reg, observe.DefaultMetrics()); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"timeout": "90s", "bad": "soon", "num": 5}
	if got := optDuration(opts, "timeout"); got.Seconds() != 90 {
		t.Errorf("timeout = %v", got)
	}
	for _, key := range []string{"bad", "num", "missing"} {
		if got := optDuration(opts, key); got != 0 {
			t.Errorf("optDuration(%q) = %v, want 0", key, got)
		}
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
}

func TestRun_Transcript(t *testing.T) {
	t.Setenv(config.EnvOpenAIKey, "sk-test")

	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "session.txt"), "GM: You enter the crypt.\nAlice: I light a torch.\n")
	out := filepath.Join(dir, "report.md")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-t", in, "-o", out, "--title", "Crypt Night"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run exit = %d, stderr:\n%s", code, stderr.String())
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Crypt Night", "| GM | 1 | - |", "| Alice | 1 | - |", "Alice: I light a torch."} {
		if !strings.Contains(string(got), want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(stdout.String(), "Summary saved to: "+out) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestExecute_MetricsListenFailure(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { busy.Close() })

	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "session.txt"), "GM: Roll initiative.\n")
	out := filepath.Join(dir, "report.md")

	cfg := config.Default()
	cfg.Telemetry.MetricsAddr = busy.Addr().String()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	c := &cli{Transcript: in, Output: out, Title: "Session Report"}
	if err := execute(context.Background(), c, cfg, config.NewRegistry(), m, prometheus.NewRegistry(), &stdout); err != nil {
		t.Fatalf("execute() = %v, want nil with an unusable metrics address", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("report not written: %v", err)
	}
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "session.txt"), "GM: hi\n")

	tests := []struct {
		name    string
		key     string
		args    []string
		wantErr string
	}{
		{
			name:    "missing api key",
			args:    []string{"-t", in, "-o", filepath.Join(dir, "r.md")},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "missing input",
			key:     "sk-test",
			args:    []string{"-a", filepath.Join(dir, "none.mp3"), "-o", filepath.Join(dir, "r.md")},
			wantErr: "audio file not found",
		},
		{
			name:    "bad config",
			key:     "sk-test",
			args:    []string{"-t", in, "-o", filepath.Join(dir, "r.md"), "-c", filepath.Join(dir, "none.yaml")},
			wantErr: "load config",
		},
		{
			name:    "both inputs",
			key:     "sk-test",
			args:    []string{"-t", in, "-a", in, "-o", filepath.Join(dir, "r.md")},
			wantErr: "sessionscribe:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvOpenAIKey, tt.key)
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != 1 {
				t.Fatalf("run exit = %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want containing %q", stderr.String(), tt.wantErr)
			}
		})
	}
}
