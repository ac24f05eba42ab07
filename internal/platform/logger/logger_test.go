package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &Logger{SugaredLogger: zap.New(core).Sugar()}

	log.With("holding", "clothing:s-1").Warn("apply conflict", "attempt", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["holding"] != "clothing:s-1" {
		t.Errorf("expected holding field, got %v", fields["holding"])
	}
	if fields["attempt"] != int64(3) {
		t.Errorf("expected attempt 3, got %v (%T)", fields["attempt"], fields["attempt"])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", mode, err)
		}
		log.Debug("logger ready")
	}
	Nop().Info("dropped")
}
