package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("upload_id", "u-1").Msg("Upload started")

	output := buf.String()
	if !strings.Contains(output, "Upload started") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"upload_id":"u-1"`) {
		t.Errorf("Expected JSON field upload_id, got: %s", output)
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantErr   bool
		wantLevel zerolog.Level
		wantJSON  bool
	}{
		{name: "json debug", level: "debug", format: "json", wantLevel: zerolog.DebugLevel, wantJSON: true},
		{name: "console warn", level: "WARN", format: "console", wantLevel: zerolog.WarnLevel},
		{name: "empty format is console", level: "info", format: "", wantLevel: zerolog.InfoLevel},
		{name: "bad level", level: "chatty", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log, err := Configure(buf, tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if log.GetLevel() != tt.wantLevel {
				t.Errorf("Expected level %s, got %s", tt.wantLevel, log.GetLevel())
			}

			log.WithLevel(tt.wantLevel).Msg("hello")
			isJSON := strings.HasPrefix(buf.String(), "{")
			if isJSON != tt.wantJSON {
				t.Errorf("Expected JSON=%v, got output: %s", tt.wantJSON, buf.String())
			}
		})
	}
}

func TestConfigure_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := Configure(buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}

	log.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got: %s", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := context.Background()

	ctxWithLogger := WithContext(ctx, log)

	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	logWithFields := WithFields(log, map[string]interface{}{
		"user_id": "123",
		"status":  "PARSING",
	})
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"user_id":"123"`) {
		t.Errorf("Expected output to contain user_id field, got: %s", output)
	}
	if !strings.Contains(output, `"status":"PARSING"`) {
		t.Errorf("Expected output to contain status field, got: %s", output)
	}
}
