// Package audit records gate outcomes as structured events. Events carry
// hashes and reason codes only; they never contain key material.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventDecision EventType = "DECISION"
	EventBlocked  EventType = "BLOCKED"
	EventExecuted EventType = "EXECUTED"
)

// Event is a structured audit record.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	WalletID      string            `json:"wallet_id"`
	AccountID     string            `json:"account_id,omitempty"`
	Action        string            `json:"action"`
	ContextHash   string            `json:"context_hash,omitempty"`
	Verdict       string            `json:"verdict,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Requirements  []string          `json:"requirements,omitempty"`
	DenyReasons   []string          `json:"deny_reasons,omitempty"`
	Signals       map[string]string `json:"signals,omitempty"`
	PolicySetHash string            `json:"policy_set_hash,omitempty"`
	DecisionHash  string            `json:"decision_hash,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, evt Event) error
}

// stamp fills the id and timestamp when unset.
func stamp(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

// logger implements Logger, writing JSON lines to a Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(_ context.Context, evt Event) error {
	evt = stamp(evt)

	bytes, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to several loggers and returns the first error.
func Multi(loggers ...Logger) Logger {
	return multi(loggers)
}

type multi []Logger

func (m multi) Record(ctx context.Context, evt Event) error {
	evt = stamp(evt)
	var first error
	for _, l := range m {
		if err := l.Record(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
