// Package walstore implements ledger.KV on top of a write-ahead log.
// Every committed batch is one WAL record; state is rebuilt by replaying the
// log on open, and a full snapshot is written periodically so segment
// rotation never drops state that is still live.
package walstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
	"go.uber.org/zap"
)

const (
	DefaultDir = "./wal/ledger"

	defaultSegmentThreshold = 1000
	defaultMaxSegments      = 100
	defaultSnapshotEvery    = 1000
	dirPermissions          = 0o755

	batchKey    = "ledger_batch"
	snapshotKey = "ledger_snapshot"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	segmentThreshold int
	maxSegments      int
	snapshotEvery    int
	logger           *zap.Logger
}

// WithSegments overrides the WAL segment size and retention.
func WithSegments(threshold, maxSegments int) Option {
	return func(o *options) {
		o.segmentThreshold = threshold
		o.maxSegments = maxSegments
	}
}

// WithSnapshotEvery sets how many batches are written between full snapshots.
func WithSnapshotEvery(n int) Option {
	return func(o *options) {
		o.snapshotEvery = n
	}
}

// WithLogger sets the logger used during replay and for snapshot failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store is a WAL-backed ledger.KV. Reads are served from memory.
type Store struct {
	mu            sync.RWMutex
	wal           *gowal.Wal
	state         map[string][]byte
	snapshotEvery int
	sinceSnapshot int
	snapshot      func() error
	logger        *zap.Logger
}

// Open opens (or creates) the log under dir and replays it.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{
		segmentThreshold: defaultSegmentThreshold,
		maxSegments:      defaultMaxSegments,
		snapshotEvery:    defaultSnapshotEvery,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if dir == "" {
		dir = DefaultDir
	}
	if o.snapshotEvery < 1 {
		return nil, errors.Errorf("snapshot interval must be positive, got %d", o.snapshotEvery)
	}
	if o.segmentThreshold < 1 {
		return nil, errors.Errorf("segment threshold must be positive, got %d", o.segmentThreshold)
	}
	// rotation with a single segment deletes the segment being replaced
	if o.maxSegments < 2 {
		return nil, errors.Errorf("at least 2 segments must be retained, got %d", o.maxSegments)
	}
	// at least one snapshot must survive segment rotation
	if 2*o.snapshotEvery > o.segmentThreshold*(o.maxSegments-1) {
		return nil, errors.Errorf("snapshot interval %d too large for %d segments of %d records",
			o.snapshotEvery, o.maxSegments, o.segmentThreshold)
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: o.segmentThreshold,
		MaxSegments:      o.maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &Store{
		wal:           wal,
		state:         make(map[string][]byte),
		snapshotEvery: o.snapshotEvery,
		logger:        o.logger,
	}
	s.snapshot = s.writeSnapshot

	replayed := 0
	for msg := range wal.Iterator() {
		switch msg.Key {
		case batchKey:
			var batch ledger.Batch
			if err := json.Unmarshal(msg.Value, &batch); err != nil {
				_ = wal.Close()
				return nil, errors.Wrap(err, "decode ledger batch")
			}
			s.apply(batch)
			s.sinceSnapshot++
		case snapshotKey:
			state := make(map[string][]byte)
			if err := json.Unmarshal(msg.Value, &state); err != nil {
				_ = wal.Close()
				return nil, errors.Wrap(err, "decode ledger snapshot")
			}
			s.state = state
			s.sinceSnapshot = 0
		default:
			o.logger.Warn("skipping unknown WAL record", zap.String("key", msg.Key))
			continue
		}
		replayed++
	}

	o.logger.Info("ledger WAL replayed",
		zap.String("dir", dir),
		zap.Int("records", replayed),
		zap.Int("keys", len(s.state)))

	return s, nil
}

// Get returns the committed value for key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wal == nil {
		return nil, false, errors.New("ledger WAL is closed")
	}

	v, ok := s.state[key]
	return v, ok, nil
}

// Apply writes the batch as a single WAL record, then makes it visible.
func (s *Store) Apply(batch ledger.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "marshal ledger batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return errors.New("ledger WAL is closed")
	}

	if err := s.wal.Write(s.wal.CurrentIndex()+1, batchKey, payload); err != nil {
		return errors.Wrap(err, "write ledger batch")
	}
	s.apply(batch)
	s.sinceSnapshot++

	if s.sinceSnapshot >= s.snapshotEvery {
		// the batch is already durable; a failed snapshot is retried on the next commit
		if err := s.snapshot(); err != nil {
			s.logger.Warn("ledger snapshot failed, older segments may rotate out before the next one",
				zap.Int("batches_since_snapshot", s.sinceSnapshot),
				zap.Error(err))
		} else {
			s.sinceSnapshot = 0
		}
	}
	return nil
}

func (s *Store) apply(batch ledger.Batch) {
	for _, p := range batch.Puts {
		s.state[p.Key] = p.Value
	}
}

func (s *Store) writeSnapshot() error {
	payload, err := json.Marshal(s.state)
	if err != nil {
		return errors.Wrap(err, "marshal ledger snapshot")
	}
	return s.wal.Write(s.wal.CurrentIndex()+1, snapshotKey, payload)
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return errors.New("ledger WAL is already closed")
	}

	err := s.wal.Close()
	s.wal = nil
	return err
}
