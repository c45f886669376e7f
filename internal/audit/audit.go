package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one security-relevant outcome of an engine operation. It never
// carries passwords, tokens or token hashes.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// ChannelSink hands events to a consumer over a buffered channel. Emit
// blocks while the channel is full, so pair it with a Dispatcher in
// DropIfFull mode when the consumer may stall.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side. It is never closed.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink appends one JSON object per event, newline terminated.
// Encoding or write errors are swallowed.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// ZapSink logs each event as one structured entry. Failed operations log
// at Warn, successful ones at Info.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, 5+len(event.Metadata))
	fields = append(fields,
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.Time("timestamp", event.Timestamp),
	)
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error_code", event.Error))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}

	if event.Success {
		s.logger.Info("audit event", fields...)
		return
	}
	s.logger.Warn("audit event", fields...)
}
