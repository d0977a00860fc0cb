package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"survey-platform/internal/calls"
)

var ErrDownloadFailed = errors.New("storage: recording download failed")

// RecordingArchiver copies vendor-hosted call recordings into the Store.
// Vendor URLs expire, so the archived key is what reviewers are handed.
type RecordingArchiver struct {
	Store  Store
	Client *http.Client
	// MaxBytes caps a single recording download.
	MaxBytes int64
}

const (
	defaultArchiveTimeout = 2 * time.Minute
	defaultMaxRecording   = 256 << 20
)

func NewRecordingArchiver(store Store) *RecordingArchiver {
	return &RecordingArchiver{
		Store:    store,
		Client:   &http.Client{Timeout: defaultArchiveTimeout},
		MaxBytes: defaultMaxRecording,
	}
}

// RecordingKey is recordings/{survey}/{record id}{ext}; the extension follows
// the vendor URL and defaults to .mp3.
func RecordingKey(rec calls.Record) string {
	survey := rec.SurveyID
	if survey == "" {
		survey = "unassigned"
	}
	ext := ".mp3"
	if u, err := url.Parse(rec.RecordingURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return path.Join("recordings", survey, rec.ID+ext)
}

func (a *RecordingArchiver) Archive(ctx context.Context, rec calls.Record) (string, error) {
	if rec.ID == "" || rec.RecordingURL == "" {
		return "", ErrInvalidArgument
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.RecordingURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	limit := a.MaxBytes
	if limit <= 0 {
		limit = defaultMaxRecording
	}
	body := io.LimitReader(resp.Body, limit+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w: recording larger than %d bytes", ErrDownloadFailed, limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	key := RecordingKey(rec)
	if err := a.Store.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}
