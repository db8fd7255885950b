package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validEvent() *Event {
	return &Event{
		ID:               "evt_1",
		UserID:           "user_1",
		Amount:           decimal.NewFromFloat(42.50),
		Currency:         "USD",
		Timestamp:        time.Now().Add(-time.Minute),
		Merchant:         "Corner Grocery",
		MerchantCategory: "grocery",
		Location:         &Location{Country: "US", City: "Portland", Lat: 45.52, Lon: -122.68},
		Device:           &Device{Fingerprint: "dev_abc", Type: "mobile"},
	}
}

func TestLevelForScore_Bands(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{39, LevelLow},
		{40, LevelMedium},
		{59, LevelMedium},
		{60, LevelHigh},
		{79, LevelHigh},
		{80, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLevelForScore_Monotonic(t *testing.T) {
	rank := map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2, LevelCritical: 3}
	prev := LevelForScore(0)
	for s := 1; s <= 100; s++ {
		cur := LevelForScore(s)
		if rank[cur] < rank[prev] {
			t.Fatalf("level decreased from %s to %s at score %d", prev, cur, s)
		}
		prev = cur
	}
}

func TestStandardPolicy(t *testing.T) {
	p := StandardPolicy{}

	tests := []struct {
		name      string
		level     Level
		anomalous bool
		want      Action
	}{
		{"critical blocks", LevelCritical, false, ActionBlock},
		{"critical blocks even without anomaly", LevelCritical, false, ActionBlock},
		{"high reviews", LevelHigh, false, ActionReview},
		{"medium with anomaly reviews", LevelMedium, true, ActionReview},
		{"medium without anomaly approves", LevelMedium, false, ActionApprove},
		{"low approves", LevelLow, false, ActionApprove},
		{"low approves even with anomaly", LevelLow, true, ActionApprove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ActionFor(tt.level, tt.anomalous); got != tt.want {
				t.Errorf("ActionFor(%s, %v) = %s, want %s", tt.level, tt.anomalous, got, tt.want)
			}
		})
	}
}

func TestValidateEvent_Valid(t *testing.T) {
	if err := ValidateEvent(validEvent()); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
}

func TestValidateEvent_NegativeAmount(t *testing.T) {
	ev := validEvent()
	ev.Amount = decimal.NewFromInt(-50)

	err := ValidateEvent(ev)
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestValidateEvent_CollectsAllFields(t *testing.T) {
	ev := validEvent()
	ev.ID = ""
	ev.Amount = decimal.NewFromInt(-1)
	ev.Timestamp = time.Time{}

	err := ValidateEvent(ev)
	var fes FieldErrors
	if !errors.As(err, &fes) {
		t.Fatalf("expected FieldErrors, got %T", err)
	}
	if len(fes) != 3 {
		t.Errorf("expected 3 field errors, got %d: %v", len(fes), fes)
	}
}

func TestValidateEvent_EdgeCases(t *testing.T) {
	t.Run("nil event", func(t *testing.T) {
		if err := ValidateEvent(nil); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for nil event, got %v", err)
		}
	})

	t.Run("zero amount is valid", func(t *testing.T) {
		ev := validEvent()
		ev.Amount = decimal.Zero
		if err := ValidateEvent(ev); err != nil {
			t.Errorf("zero amount should be valid, got %v", err)
		}
	})

	t.Run("future timestamp rejected", func(t *testing.T) {
		ev := validEvent()
		ev.Timestamp = time.Now().Add(time.Hour)
		if err := ValidateEvent(ev); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for future timestamp, got %v", err)
		}
	})

	t.Run("small clock skew tolerated", func(t *testing.T) {
		ev := validEvent()
		ev.Timestamp = time.Now().Add(time.Minute)
		if err := ValidateEvent(ev); err != nil {
			t.Errorf("1m skew should be tolerated, got %v", err)
		}
	})

	t.Run("missing location is valid", func(t *testing.T) {
		ev := validEvent()
		ev.Location = nil
		if err := ValidateEvent(ev); err != nil {
			t.Errorf("missing location should degrade, not fail: %v", err)
		}
	})

	t.Run("bad country code rejected", func(t *testing.T) {
		ev := validEvent()
		ev.Location.Country = "USA1"
		if err := ValidateEvent(ev); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for bad country, got %v", err)
		}
	})

	t.Run("bad currency rejected", func(t *testing.T) {
		ev := validEvent()
		ev.Currency = "US$"
		if err := ValidateEvent(ev); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for bad currency, got %v", err)
		}
	})
}
