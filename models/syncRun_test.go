package models

import (
	"errors"
	"testing"
)

func TestParseTriggerSource(t *testing.T) {
	for in, want := range map[string]string{
		"manual":     SyncTriggeredManual,
		" Schedule ": SyncTriggeredSchedule,
		"SCHEDULE":   SyncTriggeredSchedule,
	} {
		got, err := ParseTriggerSource(in)
		if err != nil {
			t.Fatalf("ParseTriggerSource(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseTriggerSource(%q) expected %s, got %s", in, want, got)
		}
	}
	for _, in := range []string{"", "retry", "cron"} {
		if _, err := ParseTriggerSource(in); !errors.Is(err, ErrUnknownTriggerSource) {
			t.Fatalf("ParseTriggerSource(%q): expected ErrUnknownTriggerSource, got %v", in, err)
		}
	}
}
