package domain

import "testing"

func TestCanTransitionTable(t *testing.T) {
	allowed := []struct{ from, to QueueStatus }{
		{QueueStatusQueued, QueueStatusDialing},
		{QueueStatusQueued, QueueStatusAbandoned},
		{QueueStatusDialing, QueueStatusConnected},
		{QueueStatusDialing, QueueStatusFailed},
		{QueueStatusDialing, QueueStatusAbandoned},
		{QueueStatusConnected, QueueStatusCompleted},
		{QueueStatusConnected, QueueStatusFailed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to QueueStatus }{
		{QueueStatusQueued, QueueStatusConnected},
		{QueueStatusQueued, QueueStatusCompleted},
		{QueueStatusQueued, QueueStatusFailed},
		{QueueStatusDialing, QueueStatusQueued},
		{QueueStatusDialing, QueueStatusCompleted},
		{QueueStatusConnected, QueueStatusAbandoned},
		{QueueStatusConnected, QueueStatusDialing},
		{QueueStatusCompleted, QueueStatusFailed},
		{QueueStatusCompleted, QueueStatusQueued},
		{QueueStatusFailed, QueueStatusDialing},
		{QueueStatusAbandoned, QueueStatusQueued},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []QueueStatus{QueueStatusCompleted, QueueStatusFailed, QueueStatusAbandoned} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []QueueStatus{QueueStatusQueued, QueueStatusDialing, QueueStatusConnected} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	stats := QueueStats{TotalCompleted: 3, TotalFailed: 1, TotalAbandoned: 1}
	if got := stats.SuccessRate(); got != 0.6 {
		t.Fatalf("expected success rate 0.6, got %v", got)
	}

	empty := QueueStats{TotalQueued: 5}
	if got := empty.SuccessRate(); got != 0 {
		t.Fatalf("expected zero success rate with no terminal entries, got %v", got)
	}
}
