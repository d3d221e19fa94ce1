package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2026-03-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2026, 3, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2026, 3, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestDayAndMonthKeys(t *testing.T) {
	at := time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	if DayKey(at) != "2026-03-10" {
		t.Fatalf("unexpected day key %s", DayKey(at))
	}
	if MonthKey(at) != "2026-03" {
		t.Fatalf("unexpected month key %s", MonthKey(at))
	}
	if !StartOfDay(at).Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start of day %v", StartOfDay(at))
	}
	if !StartOfMonth(at).Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start of month %v", StartOfMonth(at))
	}
}
