package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"survey-platform/internal/calls"
	"survey-platform/internal/config"
)

const ProviderCloudTelephony = "cloudtelephony"

// CloudTelephony reports Asterisk-style dial statuses.
var cloudTelephonyStatuses = map[string]statusEntry{
	"RINGING":     {status: calls.StatusRinging},
	"INITIATED":   {status: calls.StatusRinging},
	"QUEUED":      {status: calls.StatusRinging},
	"INPROGRESS":  {status: calls.StatusAnswered},
	"ANSWER":      {status: calls.StatusCompleted},
	"ANSWERED":    {status: calls.StatusCompleted},
	"COMPLETED":   {status: calls.StatusCompleted},
	"BUSY":        {status: calls.StatusBusy},
	"NOANSWER":    {status: calls.StatusNoAnswer},
	"CANCEL":      {status: calls.StatusCancelled},
	"CANCELED":    {status: calls.StatusCancelled},
	"CANCELLED":   {status: calls.StatusCancelled},
	"CONGESTION":  {status: calls.StatusFailed},
	"CHANUNAVAIL": {status: calls.StatusFailed},
	"FAILED":      {status: calls.StatusFailed},
	"INVALID":     {status: calls.StatusFailed, invalid: true},
}

// NewCloudTelephonyNormalizer returns the CloudTelephony webhook adapter.
func NewCloudTelephonyNormalizer() Normalizer {
	return schema{
		name:      ProviderCloudTelephony,
		callID:    stringRules("CallSid", "callSid", "CallUUID", "call_id", "callId", "uuid", "data.call_id"),
		status:    stringRules("DialCallStatus", "Status", "CallStatus", "call_status", "status", "data.status"),
		legStatus: stringRules("Legs.1.Status", "Legs.0.Status", "legs.1.status", "legs.0.status", "data.legs.0.status"),
		from:      stringRules("From", "from", "caller_id", "data.from"),
		to:        stringRules("To", "DialWhomNumber", "to", "destination", "data.to"),
		start:     timeRules(ist, "StartTime", "start_time", "data.start_time"),
		end:       timeRules(ist, "EndTime", "end_time", "data.end_time"),
		duration:  secondsRules("DialCallDuration", "Duration", "duration", "billsec", "data.duration"),
		ring:      secondsRules("RingDuration", "ring_duration"),
		recording: stringRules("RecordingUrl", "RecordUrl", "recording_url", "data.recording_url"),
		cost:      floatRules("Price", "cost", "data.cost"),
		currency:  stringRules("PriceUnit", "currency"),
		hangup:    stringRules("HangupCause", "hangup_cause", "DialHangupCause", "data.hangup_cause"),
		statuses:  cloudTelephonyStatuses,
	}
}

// CloudTelephonyProvider starts click-to-call sessions through the CloudTelephony API.
type CloudTelephonyProvider struct {
	cfg    config.CloudTelephonyConfig
	caller *httpCaller
}

func NewCloudTelephonyProvider(cfg config.TelephonyConfig, client *http.Client) *CloudTelephonyProvider {
	return &CloudTelephonyProvider{cfg: cfg.CloudTelephony, caller: newHTTPCaller(client, cfg.Timeout, cfg.RatePerSecond)}
}

func (p *CloudTelephonyProvider) Name() string { return ProviderCloudTelephony }

var cloudTelephonyResponseID = stringRules("call_id", "CallSid", "data.call_id", "data.CallSid", "data.uuid")

func (p *CloudTelephonyProvider) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if err := req.validate(); err != nil {
		return CallResult{}, err
	}
	body := map[string]any{
		"from": req.From,
		"to":   req.To,
	}
	if req.CallbackURL != "" {
		body["status_callback"] = req.CallbackURL
	}
	if req.Reference != "" {
		body["custom_field"] = req.Reference
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/calls/connect"
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	resp, err := p.caller.postJSON(ctx, url, headers, body)
	if err != nil {
		return CallResult{}, err
	}
	id, ok := Extract(resp, cloudTelephonyResponseID)
	if !ok {
		return CallResult{}, fmt.Errorf("%w: cloudtelephony response has no call id", ErrInitiateFailed)
	}
	return CallResult{ProviderCallID: id, Raw: resp}, nil
}
