package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	log, err := New("debug", zap.String("service", "test"))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}

	log, err = New("warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info disabled at warn")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
