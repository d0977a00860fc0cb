package telephony

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"survey-platform/internal/calls"
)

var (
	ErrUnknownProvider = errors.New("telephony: unknown provider")
	// ErrNoCallIdentity means neither a vendor call id nor a callee number was found.
	ErrNoCallIdentity = errors.New("telephony: webhook has no call identity")
)

// WebhookEvent is the vendor-neutral shape of one webhook. The reconciler
// depends on this type only, never on vendor field names.
type WebhookEvent struct {
	Provider       string
	ProviderCallID string
	FromNumber     string
	ToNumber       string

	Status    calls.Status
	RawStatus string
	// StatusFallback is set when no table entry matched and Status defaulted to completed.
	StatusFallback bool
	InvalidNumber  bool
	Reachability   string

	StartTime           *time.Time
	EndTime             *time.Time
	DurationSeconds     int
	RingDurationSeconds int

	RecordingURL string
	Cost         float64
	Currency     string
	HangupCause  string

	Raw        Payload
	ReceivedAt time.Time
}

// Normalizer converts one vendor's payload into a WebhookEvent.
type Normalizer interface {
	Name() string
	Normalize(p Payload, receivedAt time.Time) (WebhookEvent, error)
}

// Observation converts the event for calls.Record.Merge.
func (e WebhookEvent) Observation() calls.Observation {
	return calls.Observation{
		Provider:            e.Provider,
		ProviderCallID:      e.ProviderCallID,
		FromNumber:          e.FromNumber,
		ToNumber:            e.ToNumber,
		Status:              e.Status,
		InvalidNumber:       e.InvalidNumber,
		Reachability:        e.Reachability,
		StartTime:           e.StartTime,
		EndTime:             e.EndTime,
		DurationSeconds:     e.DurationSeconds,
		RingDurationSeconds: e.RingDurationSeconds,
		RecordingURL:        e.RecordingURL,
		Cost:                e.Cost,
		Currency:            e.Currency,
		HangupCause:         e.HangupCause,
		PayloadHash:         e.PayloadHash(),
		Raw:                 map[string]any(e.Raw),
		ReceivedAt:          e.ReceivedAt,
	}
}

// PayloadHash identifies the raw payload; json.Marshal sorts map keys.
func (e WebhookEvent) PayloadHash() string {
	if e.Raw == nil {
		return ""
	}
	b, err := json.Marshal(map[string]any(e.Raw))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type statusEntry struct {
	status  calls.Status
	invalid bool
}

// schema is the declarative extraction table for one vendor.
type schema struct {
	name string

	callID    []Rule[string]
	status    []Rule[string]
	legStatus []Rule[string]
	from      []Rule[string]
	to        []Rule[string]
	start     []Rule[time.Time]
	end       []Rule[time.Time]
	duration  []Rule[int]
	ring      []Rule[int]
	recording []Rule[string]
	cost      []Rule[float64]
	currency  []Rule[string]
	hangup    []Rule[string]

	statuses map[string]statusEntry
}

func (s schema) Name() string { return s.name }

func (s schema) Normalize(p Payload, receivedAt time.Time) (WebhookEvent, error) {
	ev := WebhookEvent{Provider: s.name, Raw: p, ReceivedAt: receivedAt.UTC()}

	ev.ProviderCallID, _ = Extract(p, s.callID)
	ev.FromNumber, _ = Extract(p, s.from)
	ev.ToNumber, _ = Extract(p, s.to)
	if ev.ProviderCallID == "" && ev.ToNumber == "" {
		return ev, ErrNoCallIdentity
	}

	ev.RawStatus, _ = Extract(p, s.status)
	ev.Status, ev.InvalidNumber, ev.StatusFallback = s.mapStatus(p, ev.RawStatus)

	if t, ok := Extract(p, s.start); ok {
		ev.StartTime = &t
	}
	if t, ok := Extract(p, s.end); ok {
		ev.EndTime = &t
	}
	ev.DurationSeconds, _ = Extract(p, s.duration)
	if ev.DurationSeconds == 0 && ev.StartTime != nil && ev.EndTime != nil && ev.Status.Connected() {
		ev.DurationSeconds = int(ev.EndTime.Sub(*ev.StartTime).Seconds())
	}
	ev.RingDurationSeconds, _ = Extract(p, s.ring)
	ev.RecordingURL, _ = Extract(p, s.recording)
	ev.Cost, _ = Extract(p, s.cost)
	ev.Currency, _ = Extract(p, s.currency)
	ev.HangupCause, _ = Extract(p, s.hangup)

	invalid, reach := classifyHangup(ev.HangupCause)
	if invalid {
		ev.InvalidNumber = true
	}
	ev.Reachability = reach
	return ev, nil
}

// mapStatus looks the top-level status up first, then every per-leg status,
// and only then falls back to completed.
func (s schema) mapStatus(p Payload, raw string) (calls.Status, bool, bool) {
	if e, ok := s.statuses[statusKey(raw)]; ok && raw != "" {
		return e.status, e.invalid, false
	}
	for _, r := range s.legStatus {
		v, ok := p.Lookup(r.Path)
		if !ok {
			continue
		}
		leg, ok := r.Transform(v)
		if !ok {
			continue
		}
		if e, ok := s.statuses[statusKey(leg)]; ok {
			return e.status, e.invalid, false
		}
	}
	return calls.StatusCompleted, false, true
}

// Q.850 cause names and codes that vendors pass through as hangup causes.
var (
	invalidNumberCauses = map[string]bool{
		"UNALLOCATEDNUMBER": true, "1": true,
		"NOROUTEDESTINATION": true, "3": true,
		"INVALIDNUMBERFORMAT": true, "28": true,
		"NUMBERCHANGED": true, "22": true,
	}
	switchedOffCauses = map[string]bool{
		"SUBSCRIBERABSENT": true, "20": true,
	}
	notReachableCauses = map[string]bool{
		"NOUSERRESPONSE": true, "18": true,
		"DESTINATIONOUTOFORDER": true, "27": true,
		"NETWORKOUTOFORDER": true, "38": true,
	}
)

func classifyHangup(cause string) (invalid bool, reachability string) {
	if cause == "" {
		return false, ""
	}
	k := statusKey(cause)
	k = strings.TrimPrefix(k, "Q850")
	switch {
	case invalidNumberCauses[k]:
		return true, ""
	case switchedOffCauses[k]:
		return false, calls.ReachabilitySwitchedOff
	case notReachableCauses[k]:
		return false, calls.ReachabilityNotReachable
	}
	return false, ""
}
