package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"survey-platform/internal/calls"
	"survey-platform/internal/config"
)

const ProviderDeepCall = "deepcall"

// ist is the zone DeepCall uses for zone-less timestamps.
var ist = time.FixedZone("IST", 5*3600+1800)

// DeepCall reports numeric status codes, sometimes as text.
var deepCallStatuses = map[string]statusEntry{
	"0": {status: calls.StatusRinging},
	"1": {status: calls.StatusRinging},
	"2": {status: calls.StatusAnswered},
	"3": {status: calls.StatusCompleted},
	"4": {status: calls.StatusBusy},
	"5": {status: calls.StatusNoAnswer},
	"6": {status: calls.StatusCancelled},
	"7": {status: calls.StatusFailed},
	"8": {status: calls.StatusFailed, invalid: true},

	"INITIATED":     {status: calls.StatusRinging},
	"RINGING":       {status: calls.StatusRinging},
	"CONNECTED":     {status: calls.StatusAnswered},
	"ANSWERED":      {status: calls.StatusCompleted},
	"COMPLETED":     {status: calls.StatusCompleted},
	"BUSY":          {status: calls.StatusBusy},
	"NOANSWER":      {status: calls.StatusNoAnswer},
	"NOTANSWERED":   {status: calls.StatusNoAnswer},
	"MISSED":        {status: calls.StatusNoAnswer},
	"CANCEL":        {status: calls.StatusCancelled},
	"CANCELLED":     {status: calls.StatusCancelled},
	"FAILED":        {status: calls.StatusFailed},
	"CONGESTION":    {status: calls.StatusFailed},
	"INVALIDNUMBER": {status: calls.StatusFailed, invalid: true},
}

// NewDeepCallNormalizer returns the DeepCall webhook adapter.
func NewDeepCallNormalizer() Normalizer {
	return schema{
		name:   ProviderDeepCall,
		callID: stringRules("callId", "CallId", "callid", "call_id", "uuid", "data.callId", "cdr.callId"),
		status: stringRules("callStatus", "status", "dialStatus", "data.callStatus", "cdr.status"),
		legStatus: stringRules(
			"customerStatus", "legs.1.status", "legs.0.status",
			"cdr.legs.1.status", "cdr.legs.0.status", "agentStatus",
		),
		from:      stringRules("agentNumber", "from", "caller", "data.agentNumber", "cdr.from"),
		to:        stringRules("customerNumber", "custNumber", "to", "callee", "data.customerNumber", "cdr.to"),
		start:     timeRules(ist, "startTime", "callStartTime", "data.startTime", "cdr.startTime"),
		end:       timeRules(ist, "endTime", "callEndTime", "data.endTime", "cdr.endTime"),
		duration:  secondsRules("talkDuration", "duration", "callDuration", "billsec", "data.duration", "cdr.duration"),
		ring:      secondsRules("ringDuration", "ringTime", "cdr.ringDuration"),
		recording: stringRules("recordingUrl", "recordingURL", "recording", "data.recordingUrl", "cdr.recordingUrl"),
		cost:      floatRules("cost", "callCost", "charge", "cdr.cost"),
		currency:  stringRules("currency", "cdr.currency"),
		hangup:    stringRules("hangupCause", "hangup_cause", "disconnectReason", "cdr.hangupCause"),
		statuses:  deepCallStatuses,
	}
}

// DeepCallProvider starts click-to-call sessions through the DeepCall REST API.
type DeepCallProvider struct {
	cfg    config.DeepCallConfig
	caller *httpCaller
}

func NewDeepCallProvider(cfg config.TelephonyConfig, client *http.Client) *DeepCallProvider {
	return &DeepCallProvider{cfg: cfg.DeepCall, caller: newHTTPCaller(client, cfg.Timeout, cfg.RatePerSecond)}
}

func (p *DeepCallProvider) Name() string { return ProviderDeepCall }

var deepCallResponseID = stringRules("callId", "CallId", "data.callId", "data.call_id", "uuid")

func (p *DeepCallProvider) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if err := req.validate(); err != nil {
		return CallResult{}, err
	}
	body := map[string]any{
		"userId":         p.cfg.UserID,
		"token":          p.cfg.Token,
		"agentNumber":    req.From,
		"customerNumber": req.To,
	}
	if req.Reference != "" {
		body["refId"] = req.Reference
	}
	if req.CallbackURL != "" {
		body["callbackUrl"] = req.CallbackURL
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/v1/clickToCall"
	resp, err := p.caller.postJSON(ctx, url, nil, body)
	if err != nil {
		return CallResult{}, err
	}
	if st, ok := Extract(resp, stringRules("status")); ok && strings.EqualFold(st, "error") {
		return CallResult{}, fmt.Errorf("%w: deepcall rejected call", ErrInitiateFailed)
	}
	id, ok := Extract(resp, deepCallResponseID)
	if !ok {
		return CallResult{}, fmt.Errorf("%w: deepcall response has no call id", ErrInitiateFailed)
	}
	return CallResult{ProviderCallID: id, Raw: resp}, nil
}
