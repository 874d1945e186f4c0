// Package applog configures slog for coursedesk: a daily log file under the
// config dir, a level that can change at runtime, and masking of credentials.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix  = "coursedesk-"
	fileSuffix  = ".log"
	dayLayout   = "2006-01-02"
	defaultKeep = 7
	redacted    = "[redacted]"
)

// secretKeys are attribute keys whose values never reach a log sink.
var secretKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"authorization": true,
	"password":      true,
}

// Rotator writes to coursedesk-YYYY-MM-DD.log in dir and switches files when
// the local date changes. Files dated more than keep days back are removed;
// anything else in dir is left alone.
type Rotator struct {
	dir  string
	keep int
	now  func() time.Time

	mu  sync.Mutex
	day string
	f   *os.File
}

func NewRotator(dir string, keep int) *Rotator {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Rotator{dir: dir, keep: keep, now: time.Now}
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if day := now.Format(dayLayout); day != r.day || r.f == nil {
		if err := r.open(day); err != nil {
			return 0, err
		}
		r.prune(now)
	}
	return r.f.Write(p)
}

func (r *Rotator) open(day string) error {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	f, err := os.OpenFile(filepath.Join(r.dir, filePrefix+day+fileSuffix), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.f, r.day = f, day
	return nil
}

func (r *Rotator) prune(now time.Time) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	today, _ := time.Parse(dayLayout, now.Format(dayLayout))
	oldest := today.AddDate(0, 0, -(r.keep - 1))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day, err := time.Parse(dayLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		if day.Before(oldest) {
			os.Remove(filepath.Join(r.dir, name))
		}
	}
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

type Options struct {
	// Dir holds the daily files. Empty means log to Fallback.
	Dir   string
	Level string
	// Format is "text" (default) or "json".
	Format string
	// Keep is the number of days of files retained. Defaults to 7.
	Keep int
	// Fallback receives logs when Dir is empty. Defaults to os.Stderr.
	Fallback io.Writer
}

// Logging is the process logger plus the handles needed to adjust and
// release it.
type Logging struct {
	Logger *slog.Logger
	level  *slog.LevelVar
	sink   io.Closer
}

// Init builds the logger, installs it as slog.Default and points the stdlib
// log package at the same sink.
func Init(opts Options) (*Logging, error) {
	var (
		out  io.Writer
		sink io.Closer
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		r := NewRotator(opts.Dir, opts.Keep)
		out, sink = r, r
	} else {
		out = opts.Fallback
		if out == nil {
			out = os.Stderr
		}
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: level, ReplaceAttr: maskSecrets}

	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		h = slog.NewJSONHandler(out, hopts)
	case "", "text":
		h = slog.NewTextHandler(out, hopts)
	default:
		if sink != nil {
			sink.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	log.SetOutput(out)
	log.SetFlags(0)
	return &Logging{Logger: logger, level: level, sink: sink}, nil
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logging) SetLevel(s string) {
	l.level.Set(ParseLevel(s))
}

func (l *Logging) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func maskSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

// ParseLevel maps a config level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
