package calls

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Merge folds an observation into the record. Applying the same observation
// again leaves the record unchanged, and a set of observations yields the
// same record in any order.
func (r *Record) Merge(o Observation) {
	// Records are copied by value; do not write through shared backing storage.
	r.FieldSources = maps.Clone(r.FieldSources)
	r.PayloadHashes = slices.Clone(r.PayloadHashes)

	if r.ProviderCallID == "" && o.ProviderCallID != "" {
		r.ProviderCallID = o.ProviderCallID
		r.ProviderCallKey = strings.ToLower(o.ProviderCallID)
	}
	if r.Provider == "" {
		r.Provider = o.Provider
	}
	if r.FromNumber == "" && o.FromNumber != "" {
		r.FromNumber = o.FromNumber
	}
	if r.ToNumber == "" && o.ToNumber != "" {
		r.ToNumber = o.ToNumber
	}

	if o.Status != "" && o.Status.rank() > r.Status.rank() {
		r.Status = o.Status
	}
	if o.InvalidNumber {
		r.InvalidNumber = true
	}

	if o.StartTime != nil && (r.CallStartTime == nil || o.StartTime.Before(*r.CallStartTime)) {
		t := *o.StartTime
		r.CallStartTime = &t
	}
	if o.EndTime != nil && (r.CallEndTime == nil || o.EndTime.After(*r.CallEndTime)) {
		t := *o.EndTime
		r.CallEndTime = &t
	}
	if o.DurationSeconds > r.DurationSeconds {
		r.DurationSeconds = o.DurationSeconds
	}
	if o.RingDurationSeconds > r.RingDurationSeconds {
		r.RingDurationSeconds = o.RingDurationSeconds
	}

	p := precedence(o)
	if r.claim("reachability", p, o.Reachability != "") {
		r.Reachability = o.Reachability
	}
	if r.claim("recording_url", p, o.RecordingURL != "") {
		r.RecordingURL = o.RecordingURL
	}
	if r.claim("cost", p, o.Cost > 0) {
		r.Cost = o.Cost
	}
	if r.claim("currency", p, o.Currency != "") {
		r.Currency = o.Currency
	}
	if r.claim("hangup_cause", p, o.HangupCause != "") {
		r.HangupCause = o.HangupCause
	}
	if r.claim("raw", p, o.Raw != nil) {
		r.RawPayload = o.Raw
	}

	if !r.WebhookReceived || r.WebhookReceivedAt == nil || o.ReceivedAt.Before(*r.WebhookReceivedAt) {
		r.WebhookReceived = true
		at := o.ReceivedAt
		r.WebhookReceivedAt = &at
	}
	if o.PayloadHash != "" {
		if i, found := slices.BinarySearch(r.PayloadHashes, o.PayloadHash); !found {
			r.PayloadHashes = slices.Insert(r.PayloadHashes, i, o.PayloadHash)
		}
		r.WebhookCount = len(r.PayloadHashes)
	}
}

// claim reports whether an observation with precedence p and a value for
// field should replace the stored one, and records p when it does.
func (r *Record) claim(field, p string, has bool) bool {
	if !has {
		return false
	}
	if cur, ok := r.FieldSources[field]; ok && cur >= p {
		return false
	}
	if r.FieldSources == nil {
		r.FieldSources = map[string]string{}
	}
	r.FieldSources[field] = p
	return true
}

// precedence orders observations as strings: higher status rank first, then
// the smaller payload hash (its hex digits are inverted so larger wins).
func precedence(o Observation) string {
	const hex, rev = "0123456789abcdef", "fedcba9876543210"
	inv := []byte(strings.ToLower(o.PayloadHash))
	for i, c := range inv {
		if j := strings.IndexByte(hex, c); j >= 0 {
			inv[i] = rev[j]
		}
	}
	return strconv.Itoa(o.Status.rank()) + ":" + string(inv)
}
