package limits

import (
	"errors"
	"testing"

	"github.com/ticketx/ledger-engine/internal/model"
)

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(10, 4)

	err := limiter.CheckLimit("E1", 4, nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerEventExceeded(t *testing.T) {
	limiter := NewPositionLimiter(10, 0)

	// Existing holding of 8 + new 3 = 11 > 10.
	holdings := map[string]int64{"E1": 8}

	err := limiter.CheckLimit("E1", 3, holdings)
	if err != ErrEventLimitExceeded {
		t.Errorf("expected ErrEventLimitExceeded, got %v", err)
	}
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Errorf("expected error to match model.ErrLimitExceeded")
	}
}

func TestCheckLimit_ExactlyAtLimit(t *testing.T) {
	limiter := NewPositionLimiter(10, 0)

	holdings := map[string]int64{"E1": 8}
	if err := limiter.CheckLimit("E1", 2, holdings); err != nil {
		t.Errorf("reaching the limit exactly should be allowed, got %v", err)
	}
}

func TestCheckLimit_OtherEventsIgnored(t *testing.T) {
	limiter := NewPositionLimiter(10, 0)

	holdings := map[string]int64{"E2": 10}
	if err := limiter.CheckLimit("E1", 10, holdings); err != nil {
		t.Errorf("holdings in other events should not count, got %v", err)
	}
}

func TestCheckLimit_PerOrderExceeded(t *testing.T) {
	limiter := NewPositionLimiter(0, 4)

	err := limiter.CheckLimit("E1", 5, nil)
	if err != ErrOrderLimitExceeded {
		t.Errorf("expected ErrOrderLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		limiter *PositionLimiter
	}{
		{"nil limiter", nil},
		{"zero limits", NewPositionLimiter(0, 0)},
		{"negative limits", NewPositionLimiter(-1, -5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.limiter.CheckLimit("E1", 1_000_000, map[string]int64{"E1": 1_000_000}); err != nil {
				t.Errorf("expected no limit, got %v", err)
			}
		})
	}
}
