package telephony

import (
	"errors"
	"testing"
	"time"

	"survey-platform/internal/calls"
)

var received = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func TestDeepCall_StatusCodes(t *testing.T) {
	n := NewDeepCallNormalizer()
	cases := map[string]calls.Status{
		"1": calls.StatusRinging,
		"3": calls.StatusCompleted,
		"4": calls.StatusBusy,
		"5": calls.StatusNoAnswer,
		"6": calls.StatusCancelled,
		"7": calls.StatusFailed,
	}
	for code, want := range cases {
		ev, err := n.Normalize(Payload{"callId": "DC-1", "callStatus": code}, received)
		if err != nil {
			t.Fatalf("normalize %s: %v", code, err)
		}
		if ev.Status != want || ev.StatusFallback {
			t.Fatalf("code %s: expected %s, got %s (fallback=%v)", code, want, ev.Status, ev.StatusFallback)
		}
	}

	ev, _ := n.Normalize(Payload{"callId": "DC-1", "callStatus": "8"}, received)
	if ev.Status != calls.StatusFailed || !ev.InvalidNumber {
		t.Fatalf("expected invalid-number failure, got %+v", ev)
	}
}

func TestDeepCall_UnknownCodeUsesLegDetail(t *testing.T) {
	n := NewDeepCallNormalizer()
	p := Payload{
		"callId":     "DC-2",
		"callStatus": "99",
		"legs":       []any{map[string]any{"status": "ANSWERED"}, map[string]any{"status": "No Answer"}},
	}
	ev, err := n.Normalize(p, received)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Status != calls.StatusNoAnswer || ev.StatusFallback {
		t.Fatalf("expected customer leg status, got %s", ev.Status)
	}

	ev, _ = n.Normalize(Payload{"callId": "DC-3", "callStatus": "99"}, received)
	if ev.Status != calls.StatusCompleted || !ev.StatusFallback || ev.RawStatus != "99" {
		t.Fatalf("expected completed as last resort, got %+v", ev)
	}
}

func TestDeepCall_FieldsAndDurations(t *testing.T) {
	n := NewDeepCallNormalizer()
	p := Payload{
		"callId":         "DC-4",
		"callStatus":     "3",
		"agentNumber":    "9000000001",
		"customerNumber": "9876543210",
		"startTime":      "2026-02-01 15:30:00",
		"endTime":        "2026-02-01 15:31:35",
		"talkDuration":   "00:01:35",
		"recordingUrl":   "https://dc.example/rec/4.mp3",
		"cost":           "1.25",
	}
	ev, err := n.Normalize(p, received)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.FromNumber != "9000000001" || ev.ToNumber != "9876543210" {
		t.Fatalf("unexpected numbers %+v", ev)
	}
	if ev.DurationSeconds != 95 || ev.RecordingURL == "" || ev.Cost != 1.25 {
		t.Fatalf("unexpected call details %+v", ev)
	}
	if ev.StartTime == nil || ev.StartTime.Hour() != 10 {
		t.Fatalf("expected IST start converted to UTC, got %v", ev.StartTime)
	}
}

func TestCloudTelephony_StatusesAndHangupCauses(t *testing.T) {
	n := NewCloudTelephonyNormalizer()

	ev, err := n.Normalize(Payload{"CallSid": "CT-1", "DialCallStatus": "CHANUNAVAIL", "HangupCause": "UNALLOCATED_NUMBER"}, received)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Status != calls.StatusFailed || !ev.InvalidNumber {
		t.Fatalf("expected invalid number, got %+v", ev)
	}

	ev, _ = n.Normalize(Payload{"CallSid": "CT-2", "Status": "NOANSWER", "HangupCause": "SUBSCRIBER_ABSENT"}, received)
	if ev.Status != calls.StatusNoAnswer || ev.Reachability != calls.ReachabilitySwitchedOff || ev.InvalidNumber {
		t.Fatalf("expected switched off no-answer, got %+v", ev)
	}

	ev, _ = n.Normalize(Payload{"CallSid": "CT-3", "Status": "no-answer"}, received)
	if ev.Status != calls.StatusNoAnswer {
		t.Fatalf("expected separator-insensitive match, got %s", ev.Status)
	}

	ev, _ = n.Normalize(Payload{"CallSid": "CT-4", "Status": "ANSWER", "DialCallDuration": "42"}, received)
	if ev.Status != calls.StatusCompleted || ev.DurationSeconds != 42 {
		t.Fatalf("unexpected answered call %+v", ev)
	}
}

func TestNormalize_RequiresCallIdentity(t *testing.T) {
	n := NewCloudTelephonyNormalizer()
	if _, err := n.Normalize(Payload{"Status": "BUSY"}, received); !errors.Is(err, ErrNoCallIdentity) {
		t.Fatalf("expected ErrNoCallIdentity, got %v", err)
	}
	ev, err := n.Normalize(Payload{"Status": "BUSY", "To": "9876543210"}, received)
	if err != nil || ev.ProviderCallID != "" || ev.ToNumber != "9876543210" {
		t.Fatalf("expected phone-only event, got %+v %v", ev, err)
	}
}

func TestPayloadHashIsStable(t *testing.T) {
	a := WebhookEvent{Raw: Payload{"b": "2", "a": "1"}}
	b := WebhookEvent{Raw: Payload{"a": "1", "b": "2"}}
	if a.PayloadHash() == "" || a.PayloadHash() != b.PayloadHash() {
		t.Fatalf("expected stable hash")
	}
}
