package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/viss-protocol/viss-go/pkg/wire"
)

// DefaultSubjectPrefix is the subject prefix of signal samples. The leaf
// path follows the prefix, so "viss.signal.Vehicle.Speed" carries
// Vehicle.Speed.
const DefaultSubjectPrefix = "viss.signal"

// ErrStarted is returned by Start on a running source.
var ErrStarted = errors.New("source already started")

// NATSConfig configures a NATS source.
type NATSConfig struct {
	// SubjectPrefix is the subject prefix (default "viss.signal").
	SubjectPrefix string

	// Queue joins a queue group so that several servers share one feed.
	Queue string

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// Clock returns the time of samples without a timestamp (default time.Now).
	Clock func() time.Time
}

// Reply is the answer to a sample published with a reply subject.
type Reply struct {
	OK    bool        `json:"ok"`
	Seq   uint64      `json:"seq,omitempty"`
	Error *wire.Error `json:"error,omitempty"`
}

// NATSSource writes samples received on NATS to a sink.
type NATSSource struct {
	nc     *nats.Conn
	sink   Sink
	config NATSConfig

	mu  sync.Mutex
	sub *nats.Subscription

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewNATSSource creates a source reading from nc.
func NewNATSSource(nc *nats.Conn, sink Sink, config NATSConfig) *NATSSource {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultSubjectPrefix
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &NATSSource{nc: nc, sink: sink, config: config}
}

// Subject returns the wildcard subject the source listens on.
func (s *NATSSource) Subject() string {
	return s.config.SubjectPrefix + ".>"
}

// Start subscribes to the sample subject.
func (s *NATSSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return ErrStarted
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.config.Queue != "" {
		sub, err = s.nc.QueueSubscribe(s.Subject(), s.config.Queue, s.handle)
	} else {
		sub, err = s.nc.Subscribe(s.Subject(), s.handle)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.Subject(), err)
	}
	s.sub = sub
	s.debugLog("nats source started", "subject", s.Subject(), "queue", s.config.Queue)
	return nil
}

// Stop drains the subscription. Samples already received are still written.
func (s *NATSSource) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Drain()
}

// Accepted returns the number of samples written.
func (s *NATSSource) Accepted() uint64 { return s.accepted.Load() }

// Rejected returns the number of samples the sink refused.
func (s *NATSSource) Rejected() uint64 { return s.rejected.Load() }

func (s *NATSSource) handle(msg *nats.Msg) {
	sample, err := s.decode(msg)
	if err == nil {
		rec, werr := s.sink.UpdatePath(sample.Path, sample.Value, sample.Time(s.config.Clock()))
		if werr == nil {
			s.accepted.Add(1)
			s.reply(msg, Reply{OK: true, Seq: rec.Seq})
			return
		}
		err = werr
	}

	s.rejected.Add(1)
	s.debugLog("sample rejected", "subject", msg.Subject, "error", err)
	s.reply(msg, Reply{Error: wire.ErrorFor(err)})
}

// decode reads a sample. The path defaults to the subject suffix.
func (s *NATSSource) decode(msg *nats.Msg) (Sample, error) {
	var sample Sample
	if err := json.Unmarshal(msg.Data, &sample); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", wire.ErrInvalidMessage, err)
	}
	if sample.Path == "" {
		sample.Path = strings.TrimPrefix(msg.Subject, s.config.SubjectPrefix+".")
	}
	return sample, nil
}

func (s *NATSSource) reply(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.debugLog("reply failed", "subject", msg.Reply, "error", err)
	}
}

// debugLog logs a debug message if logging is enabled.
func (s *NATSSource) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

// Publish sends a sample on the subject of its path.
func Publish(nc *nats.Conn, prefix string, sample Sample) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return nc.Publish(prefix+"."+sample.Path, data)
}
