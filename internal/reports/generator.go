package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"survey-platform/internal/storage"
	"survey-platform/pkg/logger"
)

var (
	ErrInvalidRequest  = errors.New("reports: invalid request")
	ErrGeneratorFailed = errors.New("reports: generator failed")
	ErrTimeout         = errors.New("reports: generator timed out")
)

const (
	DefaultTimeout = 10 * time.Minute
	dateLayout     = "2006-01-02"
	// stderrTail bounds how much generator output ends up in errors and logs.
	stderrTail = 2048
)

// Generator runs the external report generator and publishes its output.
//
// The generator is invoked as:
//
//	<command...> <input> --output <file> --date YYYY-MM-DD [--template <file>]
//
// A zero exit status is not trusted on its own: the output file must exist.
type Generator struct {
	Command  []string
	Template string
	Timeout  time.Duration
	Store    storage.Store
	URLTTL   time.Duration
	// Ext is the output file extension, ".pptx" by default.
	Ext string

	clock func() time.Time
}

// NewGenerator splits commandLine on whitespace ("python3 generate_complete_report.py").
func NewGenerator(commandLine string, store storage.Store) *Generator {
	return &Generator{
		Command: strings.Fields(commandLine),
		Timeout: DefaultTimeout,
		Store:   store,
		URLTTL:  storage.DefaultURLTTL,
		Ext:     ".pptx",
		clock:   time.Now,
	}
}

type Request struct {
	SurveyID  string
	InputPath string
	// RefDate defaults to today.
	RefDate time.Time
}

type Result struct {
	Key      string        `json:"key"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration"`
}

func (g *Generator) Run(ctx context.Context, req Request) (Result, error) {
	if len(g.Command) == 0 || g.Store == nil {
		return Result{}, fmt.Errorf("%w: generator not configured", ErrInvalidRequest)
	}
	if req.InputPath == "" {
		return Result{}, fmt.Errorf("%w: input path required", ErrInvalidRequest)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return Result{}, fmt.Errorf("%w: input: %v", ErrInvalidRequest, err)
	}

	now := g.now()
	ref := req.RefDate
	if ref.IsZero() {
		ref = now
	}
	date := ref.Format(dateLayout)

	dir, err := os.MkdirTemp("", "survey-report-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	ext := g.Ext
	if ext == "" {
		ext = ".pptx"
	}
	out := filepath.Join(dir, "report"+ext)

	args := append([]string{}, g.Command[1:]...)
	args = append(args, req.InputPath, "--output", out, "--date", date)
	if g.Template != "" {
		args = append(args, "--template", g.Template)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logger.From(ctx).With(slog.String("survey_id", req.SurveyID), slog.String("date", date))
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, g.Command[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)
	if runCtx.Err() == context.DeadlineExceeded {
		log.Error("report generator timed out", slog.Duration("timeout", timeout))
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if runErr != nil {
		log.Error("report generator failed", slog.Any("err", runErr), slog.String("stderr", tail(stderr.String())))
		return Result{}, fmt.Errorf("%w: %v: %s", ErrGeneratorFailed, runErr, tail(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		// The generator reports some failures on stdout and still exits 0.
		log.Error("report generator produced no output", slog.String("stdout", tail(stdout.String())))
		return Result{}, fmt.Errorf("%w: no output file: %s", ErrGeneratorFailed, tail(stdout.String()+stderr.String()))
	}
	defer f.Close()

	survey := req.SurveyID
	if survey == "" {
		survey = "all"
	}
	key := path.Join("reports", survey, date+"-"+uuid.NewString()[:8]+ext)
	if err := g.Store.Put(ctx, key, contentType(ext), f); err != nil {
		return Result{}, err
	}
	url, err := g.Store.SignedURL(ctx, key, g.URLTTL)
	if err != nil {
		return Result{}, err
	}
	log.Info("report generated", slog.String("key", key), slog.Duration("elapsed", elapsed))
	return Result{Key: key, URL: url, Duration: elapsed}, nil
}

func (g *Generator) now() time.Time {
	if g.clock == nil {
		return time.Now()
	}
	return g.clock()
}

func contentType(ext string) string {
	switch ext {
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return s[len(s)-stderrTail:]
	}
	return s
}
