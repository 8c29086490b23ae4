package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatMoney(t *testing.T) {
	if got := FormatMoney(decimal.RequireFromString("25"), "nad"); got != "NAD 25.00" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatMoney(decimal.RequireFromString("7.5"), ""); got != "7.50" {
		t.Fatalf("unexpected %q", got)
	}
	v, err := ParseMoney("1,250.00")
	if err != nil || !v.Equal(decimal.NewFromInt(1250)) {
		t.Fatalf("ParseMoney: %v %v", v, err)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-05-01T14:00:00Z", "2026-05-01T16:00:00+02:00", "2026-05-01 14:00:00"} {
		got, err := ParseTimestamp(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, %v", in, got, err)
		}
	}
	if got, err := ParseTimestamp(""); err != nil || !got.IsZero() {
		t.Fatalf("empty input should be zero time, got %v %v", got, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
	if got := FormatDateTime(want); got != "2026-05-01 14:00:00 UTC" {
		t.Fatalf("unexpected %q", got)
	}
}
