package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Payload is a vendor webhook flattened from query, form and JSON encodings.
// Nested JSON objects and arrays are kept and reached through dotted paths.
type Payload map[string]any

// RawRequest is a webhook captured before the response is sent. Parsing
// happens later, off the request goroutine.
type RawRequest struct {
	Method      string
	ContentType string
	Query       url.Values
	Body        []byte
}

const MaxWebhookBody = 1 << 20

var ErrEmptyPayload = errors.New("telephony: empty webhook payload")

// CaptureRequest copies what ParsePayload needs out of r. It does not parse.
func CaptureRequest(r *http.Request, limit int64) (RawRequest, error) {
	if limit <= 0 {
		limit = MaxWebhookBody
	}
	raw := RawRequest{
		Method:      r.Method,
		ContentType: r.Header.Get("Content-Type"),
		Query:       cloneValues(r.URL.Query()),
	}
	if r.Body == nil {
		return raw, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return raw, fmt.Errorf("telephony: read webhook body: %w", err)
	}
	raw.Body = b
	return raw, nil
}

// ParsePayload merges query parameters, then a form or JSON body. Body values
// win over query values with the same key. The encoding is taken from the
// content type and sniffed when the vendor omits or mislabels it.
func ParsePayload(raw RawRequest) (Payload, error) {
	p := Payload{}
	mergeValues(p, raw.Query)

	body := bytes.TrimSpace(raw.Body)
	if len(body) > 0 {
		mediaType, _, _ := mime.ParseMediaType(raw.ContentType)
		switch {
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || looksLikeJSON(body):
			var obj map[string]any
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&obj); err != nil {
				return nil, fmt.Errorf("telephony: malformed json body: %w", err)
			}
			for k, v := range obj {
				p[k] = normalizeJSON(v)
			}
		default:
			vals, err := url.ParseQuery(string(body))
			if err != nil {
				return nil, fmt.Errorf("telephony: malformed form body: %w", err)
			}
			mergeValues(p, vals)
		}
	}

	if len(p) == 0 {
		return nil, ErrEmptyPayload
	}
	return p, nil
}

func looksLikeJSON(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}

// mergeValues copies url values; a value that is itself a JSON object (some
// vendors post "data={...}") is expanded in place.
func mergeValues(p Payload, vals url.Values) {
	for k, vs := range vals {
		switch len(vs) {
		case 0:
			continue
		case 1:
			p[k] = expandJSONString(vs[0])
		default:
			arr := make([]any, len(vs))
			for i, v := range vs {
				arr[i] = v
			}
			p[k] = arr
		}
	}
}

func expandJSONString(s string) any {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{") {
		return s
	}
	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(t))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return s
	}
	return normalizeJSON(obj)
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeJSON(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeJSON(vv)
		}
		return t
	}
	return v
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Lookup resolves a dotted path such as "legs.1.status".
func (p Payload) Lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
