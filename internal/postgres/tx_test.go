package postgres

import "testing"

func TestAdvisoryLockKeyDeterministic(t *testing.T) {
	a := AdvisoryLockKey("conv-123")
	b := AdvisoryLockKey("conv-123")
	if a != b {
		t.Errorf("AdvisoryLockKey not deterministic: %d != %d", a, b)
	}
}

func TestAdvisoryLockKeyDiffersAcrossConversations(t *testing.T) {
	a := AdvisoryLockKey("conv-123")
	b := AdvisoryLockKey("conv-456")
	if a == b {
		t.Error("AdvisoryLockKey collided for two distinct conversation ids (extremely unlikely, check input)")
	}
}
