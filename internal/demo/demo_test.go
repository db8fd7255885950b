package demo

import (
	"testing"
	"time"

	"github.com/atlasrisk/atlas/internal/risk"
)

var anchor = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func TestSameSeedReproducesStream(t *testing.T) {
	a := NewGenerator(42, WithNow(anchor)).Events(50)
	b := NewGenerator(42, WithNow(anchor)).Events(50)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].UserID != b[i].UserID ||
			!a[i].Amount.Equal(b[i].Amount) || !a[i].Timestamp.Equal(b[i].Timestamp) {
			t.Fatalf("event %d differs:\n%+v\n%+v", i, a[i], b[i])
		}
	}

	c := NewGenerator(43, WithNow(anchor)).Events(50)
	same := true
	for i := range a {
		if a[i].ID != c[i].ID {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical streams")
	}
}

func TestEventsAreChronologicalAndValid(t *testing.T) {
	events := NewGenerator(7, WithNow(anchor)).Events(DefaultEvents)
	if len(events) != DefaultEvents {
		t.Fatalf("got %d events, want %d", len(events), DefaultEvents)
	}
	for i, ev := range events {
		if err := risk.ValidateEvent(ev); err != nil {
			t.Fatalf("event %d invalid: %v\n%+v", i, err, ev)
		}
		if i > 0 && ev.Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events not chronological at %d: %s before %s", i, ev.Timestamp, events[i-1].Timestamp)
		}
		if ev.Timestamp.After(anchor) {
			t.Errorf("event %d in the future: %s", i, ev.Timestamp)
		}
		if ev.Currency != "USD" || ev.Location == nil || ev.Device == nil {
			t.Errorf("event %d under-populated: %+v", i, ev)
		}
	}
}

func TestFraudRateShapesEvents(t *testing.T) {
	nightOnly := func(h int) bool {
		return h <= 4 || h >= 22
	}
	inSet := func(s string, set []string) bool {
		for _, v := range set {
			if v == s {
				return true
			}
		}
		return false
	}

	for _, ev := range NewGenerator(1, WithNow(anchor), WithFraudRate(1)).Events(100) {
		if !nightOnly(ev.Timestamp.Hour()) {
			t.Errorf("fraud event at hour %d, want night", ev.Timestamp.Hour())
		}
		if !inSet(ev.Location.Country, fraudCountries) {
			t.Errorf("fraud event from %s, want a risky corridor", ev.Location.Country)
		}
		if !inSet(ev.MerchantCategory, fraudCategories) {
			t.Errorf("fraud event in category %s", ev.MerchantCategory)
		}
	}

	for _, ev := range NewGenerator(2, WithNow(anchor), WithFraudRate(0)).Events(100) {
		h := ev.Timestamp.Hour()
		if h < 8 || h > 21 {
			t.Errorf("routine event at hour %d, want business hours", h)
		}
		if !inSet(ev.Location.Country, normalCountries) {
			t.Errorf("routine event from %s", ev.Location.Country)
		}
	}
}

func TestUserPoolSize(t *testing.T) {
	users := make(map[string]bool)
	for _, ev := range NewGenerator(3, WithNow(anchor), WithUserCount(5)).Events(200) {
		users[ev.UserID] = true
	}
	if len(users) > 5 {
		t.Errorf("traffic spread over %d users, want at most 5", len(users))
	}
	for u := range users {
		if len(u) != len("user_000") {
			t.Errorf("unexpected user ID format: %q", u)
		}
	}
}
