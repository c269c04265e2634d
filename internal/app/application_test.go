package app

import (
	"testing"

	"github.com/playforge-studio/modelplane/internal/app/system"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

func TestNewDefaultsMetaLoopUseCases(t *testing.T) {
	application, err := New(Stores{}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if application.MetaLoop == nil {
		t.Fatalf("expected MetaLoop to be wired")
	}
	// An empty RuntimeConfig means no use cases were configured; UseCases
	// should report that faithfully rather than panicking on a nil slice.
	if got := application.MetaLoop.UseCases(); len(got) != 0 {
		t.Fatalf("UseCases() = %v, want empty", got)
	}
}

func TestNewAppliesConfiguredMetaLoopUseCases(t *testing.T) {
	useCases := []string{"story_generation", "npc_dialogue"}
	application, err := New(Stores{}, logger.NewDefault("test"), WithRuntimeConfig(RuntimeConfig{
		MetaLoopUseCases: useCases,
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := application.MetaLoop.UseCases()
	if len(got) != len(useCases) {
		t.Fatalf("UseCases() = %v, want %v", got, useCases)
	}
	for i := range useCases {
		if got[i] != useCases[i] {
			t.Fatalf("UseCases()[%d] = %q, want %q", i, got[i], useCases[i])
		}
	}

	// UseCases returns a defensive copy; mutating it must not affect the
	// service's internal state.
	got[0] = "mutated"
	again := application.MetaLoop.UseCases()
	if again[0] != useCases[0] {
		t.Fatalf("mutating UseCases() result leaked into service state: %v", again)
	}
}

func TestDescriptorsCoverEveryWiredService(t *testing.T) {
	application, err := New(Stores{}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	descriptors := application.Descriptors()
	if len(descriptors) != 10 {
		t.Fatalf("Descriptors() returned %d entries, want 10", len(descriptors))
	}
}

func TestAttachRegistersAdditionalService(t *testing.T) {
	application, err := New(Stores{}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := len(application.Registered())
	application.Attach(system.NoopService{ServiceName: "extra"})
	after := len(application.Registered())

	if after != before+1 {
		t.Fatalf("Attach did not register the service: before=%d after=%d", before, after)
	}
}
