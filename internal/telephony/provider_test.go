package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"survey-platform/internal/config"
)

func telephonyConfig(baseURL string, timeout time.Duration) config.TelephonyConfig {
	return config.TelephonyConfig{
		DefaultProvider: ProviderDeepCall,
		DeepCall:        config.DeepCallConfig{BaseURL: baseURL, UserID: "u1", Token: "tok"},
		CloudTelephony:  config.CloudTelephonyConfig{BaseURL: baseURL, APIKey: "key"},
		Timeout:         timeout,
		RatePerSecond:   100,
	}
}

func TestDeepCallProvider_InitiateCall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/clickToCall" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","callId":"DC-77"}`))
	}))
	defer srv.Close()

	p := NewDeepCallProvider(telephonyConfig(srv.URL, time.Second), srv.Client())
	res, err := p.InitiateCall(context.Background(), CallRequest{From: "9000000001", To: "9876543210", Reference: "entry-1"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.ProviderCallID != "DC-77" {
		t.Fatalf("unexpected call id %q", res.ProviderCallID)
	}
	if got["agentNumber"] != "9000000001" || got["customerNumber"] != "9876543210" || got["refId"] != "entry-1" {
		t.Fatalf("unexpected request body %v", got)
	}
}

func TestProviders_FailureModes(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"call_id":`))
		},
		"missing id": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
		"slow": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"call_id":"late"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			p := NewCloudTelephonyProvider(telephonyConfig(srv.URL, 50*time.Millisecond), srv.Client())
			_, err := p.InitiateCall(context.Background(), CallRequest{From: "9000000001", To: "9876543210"})
			if !errors.Is(err, ErrInitiateFailed) {
				t.Fatalf("expected ErrInitiateFailed, got %v", err)
			}
		})
	}
}

func TestCloudTelephonyProvider_SendsBearerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"call_id":"CT-9"}}`))
	}))
	defer srv.Close()

	p := NewCloudTelephonyProvider(telephonyConfig(srv.URL, time.Second), srv.Client())
	res, err := p.InitiateCall(context.Background(), CallRequest{From: "9000000001", To: "9876543210"})
	if err != nil || res.ProviderCallID != "CT-9" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
}

func TestInitiateCall_ValidatesNumbers(t *testing.T) {
	p := NewDeepCallProvider(telephonyConfig("http://unused", time.Second), nil)
	if _, err := p.InitiateCall(context.Background(), CallRequest{To: "9876543210"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(ProviderDeepCall)
	reg.Register(NewDeepCallProvider(telephonyConfig("http://x", time.Second), nil), NewDeepCallNormalizer())

	if p, err := reg.Provider(""); err != nil || p.Name() != ProviderDeepCall {
		t.Fatalf("expected default provider, got %v", err)
	}
	if _, err := reg.Provider("twilio"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := reg.Normalizer(ProviderCloudTelephony); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider for unregistered normalizer")
	}
}
