package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Provider is the click-to-call contract every vendor adapter implements.
//
// Rules:
// - No vendor HTTP calls outside telephony adapters.
// - InitiateCall is synchronous and bounded by the configured timeout.
// - Any non-2xx or unparseable vendor answer is ErrInitiateFailed.
type Provider interface {
	Name() string
	InitiateCall(ctx context.Context, req CallRequest) (CallResult, error)
}

var (
	ErrInitiateFailed = errors.New("telephony: call initiation failed")
	ErrInvalidRequest = errors.New("telephony: invalid call request")
)

// CallRequest bridges the interviewer (From) to the respondent (To).
type CallRequest struct {
	From string
	To   string
	// Reference is echoed back by vendors that support it (queue entry id).
	Reference   string
	CallbackURL string
}

func (r CallRequest) validate() error {
	if r.From == "" || r.To == "" {
		return ErrInvalidRequest
	}
	return nil
}

type CallResult struct {
	ProviderCallID string
	Raw            Payload
}

// Registry resolves providers and normalizers by vendor name.
type Registry struct {
	providers   map[string]Provider
	normalizers map[string]Normalizer
	fallback    string
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{providers: map[string]Provider{}, normalizers: map[string]Normalizer{}, fallback: defaultProvider}
}

func (r *Registry) Register(p Provider, n Normalizer) {
	if p != nil {
		r.providers[p.Name()] = p
	}
	if n != nil {
		r.normalizers[n.Name()] = n
	}
}

// Provider returns the named provider, or the default one when name is empty.
func (r *Registry) Provider(name string) (Provider, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Normalizer(name string) (Normalizer, error) {
	n, ok := r.normalizers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return n, nil
}

// httpCaller posts JSON to a vendor with a per-provider rate limit and a
// per-call timeout.
type httpCaller struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func newHTTPCaller(client *http.Client, timeout time.Duration, perSecond float64) *httpCaller {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &httpCaller{client: client, limiter: rate.NewLimiter(limit, burst), timeout: timeout}
}

const maxVendorResponse = 1 << 20

func (c *httpCaller) postJSON(ctx context.Context, url string, headers map[string]string, body any) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrInitiateFailed, err)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInitiateFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInitiateFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiateFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVendorResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInitiateFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: vendor returned %d", ErrInitiateFailed, resp.StatusCode)
	}

	p, err := ParsePayload(RawRequest{ContentType: "application/json", Body: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrInitiateFailed, err)
	}
	return p, nil
}
