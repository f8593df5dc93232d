package rotation

import (
	"strings"
	"testing"
	"time"

	"github.com/legit-games/secrets-service/models"
)

func TestGenerator_NewValue(t *testing.T) {
	g := NewGenerator(0)
	v, err := g.NewValue()
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != DefaultValueLength {
		t.Fatalf("length = %d, want %d", len(v), DefaultValueLength)
	}
	for _, c := range v {
		if !strings.ContainsRune(valueAlphabet, c) {
			t.Fatalf("character %q outside the alphabet", c)
		}
	}

	v2, err := g.NewValue()
	if err != nil {
		t.Fatal(err)
	}
	if v == v2 {
		t.Fatal("two generated values were identical")
	}

	long, err := NewGenerator(64).NewValue()
	if err != nil {
		t.Fatal(err)
	}
	if len(long) != 64 {
		t.Fatalf("length = %d, want 64", len(long))
	}
}

func TestNextRotation(t *testing.T) {
	after := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		frequency  models.RotationFrequency
		customDays int
		want       time.Time
	}{
		{models.RotationDaily, 0, time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)},
		{models.RotationWeekly, 0, time.Date(2026, 1, 22, 10, 0, 0, 0, time.UTC)},
		{models.RotationMonthly, 0, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)},
		{models.RotationQuarterly, 0, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)},
		{models.RotationCustom, 10, time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := NextRotation(tc.frequency, tc.customDays, after)
		if err != nil {
			t.Fatalf("%s: %v", tc.frequency, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.frequency, got, tc.want)
		}
	}

	if _, err := NextRotation(models.RotationCustom, 0, after); err == nil {
		t.Fatal("custom frequency without days should fail")
	}
	if _, err := NextRotation(models.RotationFrequency("hourly"), 0, after); err == nil {
		t.Fatal("unknown frequency should fail")
	}
}

func TestStateOf(t *testing.T) {
	now := time.Now().UTC()
	val := "envelope"
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if got := StateOf(&models.Secret{}, now); got != ShadowNone {
		t.Fatalf("no shadow: got %s", got)
	}
	if got := StateOf(&models.Secret{ShadowValue: &val, ShadowExpiresAt: &future}, now); got != ShadowActive {
		t.Fatalf("active shadow: got %s", got)
	}
	if got := StateOf(&models.Secret{ShadowValue: &val, ShadowExpiresAt: &past}, now); got != ShadowExpiredUnpromoted {
		t.Fatalf("expired shadow: got %s", got)
	}
	// No expiry on the row means the shadow never times out.
	if got := StateOf(&models.Secret{ShadowValue: &val}, now); got != ShadowActive {
		t.Fatalf("shadow without expiry: got %s", got)
	}
}
