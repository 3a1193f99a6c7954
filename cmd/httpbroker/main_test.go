package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spec-tacles/spectacles/pkg/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTasks(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.HTTPConfig
		wantInput   bool
		wantOutputs int
		wantErr     bool
	}{
		{
			name:      "forward by default",
			cfg:       config.HTTPConfig{URL: "http://example.com/hooks/", Method: "POST", Format: "json"},
			wantInput: true,
		},
		{
			name:        "receive only",
			cfg:         config.HTTPConfig{URL: "http://127.0.0.1:8080/events", Method: "POST", In: true, Format: "bson"},
			wantOutputs: 1,
		},
		{
			name:        "receive and forward",
			cfg:         config.HTTPConfig{URL: "http://127.0.0.1:8080/events", Method: "PUT", In: true, Out: true, Format: "bson"},
			wantInput:   true,
			wantOutputs: 1,
		},
		{
			name:    "bad listen url",
			cfg:     config.HTTPConfig{URL: "/no-host", Method: "POST", In: true, Format: "bson"},
			wantErr: true,
		},
		{
			name:    "unknown format",
			cfg:     config.HTTPConfig{URL: "http://example.com/", Method: "POST", Format: "yaml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			tasks, err := newTasks(&cfg, strings.NewReader(""), &bytes.Buffer{}, nil, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("newTasks() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newTasks() returned error: %v", err)
			}
			if (tasks.Input != nil) != tt.wantInput {
				t.Errorf("Input set = %v, want %v", tasks.Input != nil, tt.wantInput)
			}
			if len(tasks.Outputs) != tt.wantOutputs {
				t.Errorf("len(Outputs) = %d, want %d", len(tasks.Outputs), tt.wantOutputs)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("HTTP_CONFIG_FILE", "")
	t.Setenv("HTTP_URL", "http://from-env/")
	t.Setenv("HTTP_IN", "")
	t.Setenv("HTTP_OUT", "")
	t.Setenv("HTTP_TIMEOUT", "")

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--in", "--timeout", "3s", "-m", "PUT"}); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() returned error: %v", err)
	}
	if cfg.URL != "http://from-env/" {
		t.Errorf("URL = %s", cfg.URL)
	}
	if !cfg.In || cfg.Forward() {
		t.Errorf("In = %v, Forward() = %v, want receive only", cfg.In, cfg.Forward())
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Timeout)
	}
	if cfg.Method != "PUT" {
		t.Errorf("Method = %s, want PUT", cfg.Method)
	}
}

func TestLoadConfig_URLRequired(t *testing.T) {
	t.Setenv("HTTP_CONFIG_FILE", "")
	t.Setenv("HTTP_URL", "")

	cmd := newRootCommand()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Error("loadConfig() expected an error without a url")
	}
}
