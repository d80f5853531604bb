// Package audit records security-relevant activity as JSON lines.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds written by the relay.
const (
	KindMessageReceived   = "message_received"
	KindSecurityCheck     = "security_check"
	KindMessageBlocked    = "message_blocked"
	KindGenerationFailed  = "generation_failed"
	KindIntentProbeFailed = "intent_probe_failed"
	KindGuardToggle       = "guard_toggle"
	KindSessionToggle     = "session_toggle"
	KindHistoryCleared    = "history_cleared"
	KindChannelConnection = "channel_connection"
)

// ErrClosed is returned by Close on a recorder that is already closed.
var ErrClosed = errors.New("audit recorder closed")

// Recorder accepts audit events. Record must not block on I/O and never fails.
type Recorder interface {
	Record(kind string, fields map[string]any)
}

// Nop drops everything.
type Nop struct{}

func (Nop) Record(string, map[string]any) {}

// Entry is one decoded audit line. The reserved keys are id, timestamp and event.
type Entry map[string]any

// Kind returns the event name.
func (e Entry) Kind() string {
	s, _ := e["event"].(string)
	return s
}

// Time parses the timestamp, returning the zero time when absent or malformed.
func (e Entry) Time() time.Time {
	s, _ := e["timestamp"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NewEntry builds an entry with a fresh id and timestamp. Fields cannot override the
// reserved keys.
func NewEntry(kind string, fields map[string]any) Entry {
	e := make(Entry, len(fields)+3)
	for k, v := range fields {
		e[k] = v
	}
	e["id"] = uuid.NewString()
	e["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	e["event"] = kind
	return e
}

type fieldsKey struct{}

// WithFields attaches fields that collaborators deeper in the call merge into every
// entry they record for this request.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	merged := Fields(ctx)
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns a copy of the fields attached to ctx, never nil.
func Fields(ctx context.Context) map[string]any {
	out := map[string]any{}
	if parent, ok := ctx.Value(fieldsKey{}).(map[string]any); ok {
		for k, v := range parent {
			out[k] = v
		}
	}
	return out
}

// Listener is told about every entry after it was accepted.
type Listener func(Entry)

// FileRecorder appends entries to a file from a single background goroutine.
type FileRecorder struct {
	path     string
	logger   *slog.Logger
	listener Listener

	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Options tunes a FileRecorder.
type Options struct {
	// Buffer is the queue length. Zero writes synchronously.
	Buffer   int
	Logger   *slog.Logger
	Listener Listener
}

// NewFileRecorder creates the parent directory and starts the writer.
func NewFileRecorder(path string, opts Options) (*FileRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &FileRecorder{
		path:     path,
		logger:   log.With(slog.String("component", "audit")),
		listener: opts.Listener,
		done:     make(chan struct{}),
	}
	if opts.Buffer > 0 {
		r.queue = make(chan Entry, opts.Buffer)
		go r.run()
	} else {
		close(r.done)
	}
	return r, nil
}

// Path returns the file being written.
func (r *FileRecorder) Path() string {
	return r.path
}

// Record mirrors the entry to the log and queues it for the file. A full queue drops
// the entry with a warning.
func (r *FileRecorder) Record(kind string, fields map[string]any) {
	entry := NewEntry(kind, fields)
	r.logger.Info("audit", slog.String("event", kind), slog.Any("fields", fields))

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if r.listener != nil {
		r.listener(entry)
	}
	if r.queue == nil {
		if err := r.append([]Entry{entry}); err != nil {
			r.logger.Error("write audit entry failed", slog.Any("error", err))
		}
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, entry dropped", slog.String("event", kind))
	}
}

// Close drains queued entries and stops the writer.
func (r *FileRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *FileRecorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		batch := []Entry{entry}
	drain:
		for {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := r.append(batch); err != nil {
			r.logger.Error("write audit entries failed", slog.Int("count", len(batch)), slog.Any("error", err))
		}
	}
}

func (r *FileRecorder) append(entries []Entry) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadFile returns up to limit most recent entries, oldest first. A missing file yields
// no entries. Malformed lines are skipped. limit <= 0 returns everything.
func ReadFile(path string, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	entries := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e == nil {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}
