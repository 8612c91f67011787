package telemetry

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "tierpool" {
		t.Errorf("expected service name tierpool, got %q", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("expected telemetry disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty service name", func(c *Config) { c.ServiceName = "" }, true},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }, true},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.1 }, true},
		{"zero export timeout", func(c *Config) { c.ExportTimeout = 0 }, true},
		{"unknown exporter", func(c *Config) { c.Exporters = []string{"jaeger"} }, true},
		{"otlp exporter", func(c *Config) { c.Exporters = []string{"otlp"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIERPOOL_TELEMETRY_ENABLED", "true")
	t.Setenv("TIERPOOL_TELEMETRY_SERVICE_NAME", "pool-test")
	t.Setenv("TIERPOOL_TELEMETRY_EXPORTERS", "otlp, stdout")
	t.Setenv("TIERPOOL_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("TIERPOOL_TELEMETRY_EXPORT_TIMEOUT", "5s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if !cfg.Enabled {
		t.Error("expected Enabled from env")
	}
	if cfg.ServiceName != "pool-test" {
		t.Errorf("expected service name pool-test, got %q", cfg.ServiceName)
	}
	if len(cfg.Exporters) != 2 || cfg.Exporters[0] != "otlp" || cfg.Exporters[1] != "stdout" {
		t.Errorf("expected trimmed exporters [otlp stdout], got %v", cfg.Exporters)
	}
	if cfg.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %f", cfg.SampleRate)
	}
	if cfg.ExportTimeout != 5*time.Second {
		t.Errorf("expected export timeout 5s, got %s", cfg.ExportTimeout)
	}
}

func TestHasExporter(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.HasExporter("stdout") {
		t.Error("expected stdout exporter present")
	}
	if cfg.HasExporter("otlp") {
		t.Error("did not expect otlp exporter in defaults")
	}
}
