package common

import (
	"errors"
	"testing"
)

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "stakerewards"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
}

func TestGuardPausedModule(t *testing.T) {
	pauses := NewPauses(" StakeRewards ")
	if err := Guard(pauses, "stakerewards"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "treasury"); err != nil {
		t.Fatalf("unrelated module blocked: %v", err)
	}
	pauses.Set("stakerewards", false)
	if err := Guard(pauses, "stakerewards"); err != nil {
		t.Fatalf("expected module resumed, got %v", err)
	}
}
