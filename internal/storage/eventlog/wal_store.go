// Package eventlog journals emitted vault events in a WAL so that stream
// consumers can resume from the last index they saw.
package eventlog

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/vault/internal/domain"
)

const (
	DefaultDir   = "./wal/events"
	segmentLimit = 1000
	maxSegments  = 10

	eventKeyPrefix = "vault_event_"
)

// Record is one journaled event.
type Record struct {
	Index   uint64           `json:"index"`
	Kind    domain.EventKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

// Option configures a WALStore.
type Option func(*WALStore)

// WithSegments overrides the WAL segment size and how many segments are kept.
func WithSegments(threshold, segments int) Option {
	return func(s *WALStore) {
		s.threshold = threshold
		s.maxSegments = segments
	}
}

// WALStore persists vault events in a WAL. Records are mirrored in memory
// only as far back as the WAL can still hold them.
type WALStore struct {
	wal         *gowal.Wal
	mu          sync.RWMutex
	records     []Record
	threshold   int
	maxSegments int
}

// NewWALStore initializes a WAL-backed event journal.
func NewWALStore(dir string, opts ...Option) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	s := &WALStore{threshold: segmentLimit, maxSegments: maxSegments}
	for _, opt := range opts {
		opt(s)
	}
	if s.threshold < 1 || s.maxSegments < 2 {
		return nil, errors.Errorf("invalid event log segments: %d records x %d segments", s.threshold, s.maxSegments)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create event log dir %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "event_",
		SegmentThreshold: s.threshold,
		MaxSegments:      s.maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init event WAL")
	}

	s.wal = wal
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, eventKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			_ = wal.Close()
			return nil, errors.Wrap(err, "decode vault event")
		}
		s.records = append(s.records, rec)
		s.trim()
	}

	return s, nil
}

// Save writes the event to WAL.
func (s *WALStore) Save(event domain.Event) error {
	if s == nil || s.wal == nil {
		return errors.New("event log is not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal vault event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Index:   s.wal.CurrentIndex() + 1,
		Kind:    event.Kind(),
		Payload: payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal event record")
	}

	if err := s.wal.Write(rec.Index, eventKeyPrefix+string(rec.Kind), data); err != nil {
		return errors.Wrap(err, "write vault event")
	}
	s.records = append(s.records, rec)
	s.trim()
	return nil
}

// trim drops records older than the WAL retention once a full segment's
// worth has accumulated past it.
func (s *WALStore) trim() {
	retain := s.threshold * s.maxSegments
	if over := len(s.records) - retain; over >= s.threshold {
		s.records = append([]Record(nil), s.records[over:]...)
	}
}

// EventsAfter returns all events written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("event log is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if rec.Index > index {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("event log is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
