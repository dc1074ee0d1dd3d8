package eventlog

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ringkv/internal/address"
)

// Kind is the type of an audit event.
type Kind int

const (
	NodeAdd Kind = iota
	NodeRemove
	Create
	Read
	Update
	Delete
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case NodeAdd:
		return "node_add"
	case NodeRemove:
		return "node_remove"
	case Create:
		return "create"
	case Read:
		return "read"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one audit record.
type Event struct {
	Time int64
	Kind Kind
	// Node is the node that recorded the event.
	Node address.Address
	// Peer is the subject of a membership event.
	Peer address.Address

	Success       bool
	Coordinator   bool
	Stabilization bool
	TransID       int64
	Key           string
	Value         string
}

// Sink consumes audit events.
type Sink interface {
	Record(Event)
}

// ZapSink writes events through a zap logger.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink on top of log.
func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log.Named("event")}
}

// Record implements Sink.
func (s *ZapSink) Record(e Event) {
	fields := []zap.Field{
		zap.Int64("t", e.Time),
		zap.Stringer("node", e.Node),
	}
	switch e.Kind {
	case NodeAdd, NodeRemove:
		fields = append(fields, zap.Stringer("peer", e.Peer))
		s.log.Info(e.Kind.String(), fields...)
		return
	}

	fields = append(fields,
		zap.Bool("success", e.Success),
		zap.Bool("coordinator", e.Coordinator),
		zap.Int64("trans_id", e.TransID),
		zap.String("key", e.Key),
	)
	if e.Kind != Delete {
		fields = append(fields, zap.String("value", e.Value))
	}
	if e.Stabilization {
		fields = append(fields, zap.Bool("stabilization", true))
	}
	if e.Success {
		s.log.Info(e.Kind.String(), fields...)
	} else {
		s.log.Warn(e.Kind.String(), fields...)
	}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record implements Sink.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events for which keep returns true.
func (r *Recorder) Filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Tee fans an event out to several sinks.
type Tee []Sink

// Record implements Sink.
func (t Tee) Record(e Event) {
	for _, s := range t {
		s.Record(e)
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Event) {}

// NewLogger builds a zap logger. Warnings and errors go to stderr,
// everything else to stdout.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format %q", format)
	}

	outLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lvl && l < zapcore.WarnLevel })
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lvl && l >= zapcore.WarnLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), outLv),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), errLv),
	)
	return zap.New(tee), nil
}
