// Package store holds the latest value of every leaf in a signal tree.
//
// Reads are lock-free: each leaf keeps an atomic pointer to an immutable
// Record, so a reader never observes a partially written record. Writes to
// one leaf are serialized by a per-leaf mutex and must carry a timestamp no
// older than the stored one.
//
// Two write paths exist:
//   - Update: the vehicle data source. No access check.
//   - Set: a client write. Requires the leaf to be writable.
//
// Every accepted write is reported to the registered change listeners while
// the leaf's write lock is held, so listeners see the writes of one leaf in
// write order.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viss-protocol/viss-go/pkg/metrics"
	"github.com/viss-protocol/viss-go/pkg/model"
)

// Store errors.
var (
	ErrRejectedStale = errors.New("timestamp older than stored value")
	ErrReadOnly      = errors.New("signal is read-only")
	ErrNoValue       = errors.New("signal has no value")
	ErrNotLeaf       = errors.New("node does not carry a value")
)

// Record is an immutable snapshot of a leaf value.
type Record struct {
	Value     any
	Timestamp time.Time
	// Seq counts accepted writes to the leaf, starting at 1.
	Seq uint64
}

// IsZero reports whether the record was never written.
func (r Record) IsZero() bool { return r.Seq == 0 }

// Change describes an accepted write.
type Change struct {
	Handle model.Handle
	Path   string

	// Previous is nil for the first write to a leaf.
	Previous *Record
	Current  Record
}

// ChangeListener receives accepted writes.
type ChangeListener func(Change)

// Config configures a Store.
type Config struct {
	// Clock returns the time used when a write carries a zero timestamp.
	Clock func() time.Time

	// Logger receives debug logs for rejected writes (optional).
	Logger *slog.Logger

	// Metrics counts accepted and stale writes (optional).
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Clock: time.Now,
	}
}

type slot struct {
	mu     sync.Mutex
	record atomic.Pointer[Record]
}

// Store is the value cache for one tree.
type Store struct {
	tree    *model.Tree
	slots   []slot
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	listenerMu sync.RWMutex
	listeners  []ChangeListener
}

// New creates a store for tree. Attributes with a default value start out
// holding that value.
func New(tree *model.Tree, config Config) *Store {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	s := &Store{
		tree:    tree,
		slots:   make([]slot, tree.Len()),
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: config.Metrics,
	}

	start := s.clock()
	tree.Walk(func(n *model.Node) bool {
		if n.IsLeaf() && n.Metadata().Default != nil {
			s.slots[n.Handle()].record.Store(&Record{
				Value:     n.Metadata().Default,
				Timestamp: start,
				Seq:       1,
			})
		}
		return true
	})
	return s
}

// Tree returns the tree the store was created for.
func (s *Store) Tree() *model.Tree { return s.tree }

// OnChange registers a listener for accepted writes.
// Listeners run on the writing goroutine and must not write to the store.
func (s *Store) OnChange(fn ChangeListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// Read returns the latest record of a leaf without blocking.
func (s *Store) Read(h model.Handle) (Record, error) {
	if _, err := s.leaf(h); err != nil {
		return Record{}, err
	}
	rec := s.slots[h].record.Load()
	if rec == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrNoValue, s.tree.Path(h))
	}
	return *rec, nil
}

// Update stores a value supplied by the data source.
func (s *Store) Update(h model.Handle, value any, ts time.Time) (Record, error) {
	node, err := s.leaf(h)
	if err != nil {
		return Record{}, err
	}
	return s.write(node, value, ts)
}

// Set stores a value written by a client. The leaf must be writable.
func (s *Store) Set(h model.Handle, value any, ts time.Time) (Record, error) {
	node, err := s.leaf(h)
	if err != nil {
		return Record{}, err
	}
	if !node.Metadata().Access.CanWrite() {
		return Record{}, fmt.Errorf("%w: %s", ErrReadOnly, node.Path())
	}
	return s.write(node, value, ts)
}

// UpdatePath is Update addressed by exact path.
func (s *Store) UpdatePath(path string, value any, ts time.Time) (Record, error) {
	h, ok := s.tree.Lookup(path)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", model.ErrPathNotFound, path)
	}
	return s.Update(h, value, ts)
}

func (s *Store) write(node *model.Node, value any, ts time.Time) (Record, error) {
	v, err := node.Metadata().Coerce(value)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", node.Path(), err)
	}
	if ts.IsZero() {
		ts = s.clock()
	}

	sl := &s.slots[node.Handle()]
	sl.mu.Lock()
	defer sl.mu.Unlock()

	prev := sl.record.Load()
	if prev != nil && ts.Before(prev.Timestamp) {
		s.metrics.StaleRejected()
		if s.logger != nil {
			s.logger.Debug("stale write rejected",
				"path", node.Path(),
				"ts", ts,
				"stored", prev.Timestamp)
		}
		return Record{}, fmt.Errorf("%w: %s at %s, stored %s",
			ErrRejectedStale, node.Path(), ts.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
	}

	next := &Record{Value: v, Timestamp: ts, Seq: 1}
	if prev != nil {
		next.Seq = prev.Seq + 1
	}
	sl.record.Store(next)
	s.metrics.Updated()

	s.notify(Change{
		Handle:   node.Handle(),
		Path:     node.Path(),
		Previous: prev,
		Current:  *next,
	})
	return *next, nil
}

func (s *Store) notify(c Change) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

func (s *Store) leaf(h model.Handle) (*model.Node, error) {
	node, err := s.tree.Node(h)
	if err != nil {
		return nil, err
	}
	if !node.IsLeaf() {
		return nil, fmt.Errorf("%w: %s", ErrNotLeaf, node.Path())
	}
	return node, nil
}
