package cassette

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Metadata is a read-only snapshot of an on-disk cassette, built by Stat
// from a full decode of the file. It backs the "per-cassette metadata"
// accessor on the control/observability surface.
type Metadata struct {
	Name             string
	Path             string
	Format           Format
	SizeBytes        int64
	InteractionCount int
	RecordedAt       time.Time
}

// Store is the cassette persistence layer: atomic synchronous saves, typed
// loads, and a single background-writer goroutine for fire-and-forget
// saves so recording never blocks the proxy's hot request path on disk
// latency.
type Store struct {
	log zerolog.Logger

	pending  queue
	wake     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
	started  bool
}

type saveJob struct {
	cassette *Cassette
	path     string
	format   Format
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used by the background writer to report
// per-job failures.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// NewStore creates a Store and starts its background writer goroutine.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		log: zerolog.Nop(),
		// wake has a one-slot buffer and is sent to without blocking (via
		// select/default in SaveAsync): its only job is to wake the worker, not to carry the
		// job itself. The job queue is the unbounded slice in pending, so
		// back-pressure can never leak onto the hot request path.
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	s.started = true
	return s
}

// queue is the unbounded backing store for pending save jobs; drained in
// FIFO order by run().
type queue struct {
	mu    sync.Mutex
	items []saveJob
}

func (q *queue) push(j saveJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, j)
}

func (q *queue) popAll() []saveJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Save serializes and atomically writes a cassette to path: encode to a
// sibling "<path>.tmp" file in the same directory, then rename over the
// final path. The rename keeps the write within a single filesystem, so a
// crash between the two steps leaves at most an orphaned ".tmp" file and
// never a partially-written cassette at the final path.
func (s *Store) Save(c *Cassette, path string, format Format) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cassette directory: %w", err)
		}
	}

	data, err := marshal(c, format)
	if err != nil {
		return fmt.Errorf("marshal cassette: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp cassette: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp cassette into place: %w", err)
	}
	return nil
}

// Load reads and parses a cassette file, auto-detecting its format from
// the path's extension unless format is explicitly given via LoadFormat.
func (s *Store) Load(path string) (*Cassette, error) {
	format, err := FormatFromExtension(path)
	if err != nil {
		return nil, err
	}
	return s.LoadFormat(path, format)
}

// LoadFormat reads and parses a cassette file using an explicit format.
func (s *Store) LoadFormat(path string, format Format) (*Cassette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newLoadError(path, ErrCassetteNotFound, "")
		}
		return nil, newLoadError(path, ErrCassetteLoadFailed, err.Error())
	}

	c, err := unmarshal(data, format)
	if err != nil {
		return nil, newLoadError(path, ErrCassetteLoadFailed, err.Error())
	}
	return c, nil
}

// Stat returns cassette metadata. It currently parses the full cassette
// to get an accurate InteractionCount, so it is no cheaper than Load;
// callers that only need the file to exist should stat the path directly.
func (s *Store) Stat(path string) (Metadata, error) {
	format, err := FormatFromExtension(path)
	if err != nil {
		return Metadata{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, newLoadError(path, ErrCassetteNotFound, "")
		}
		return Metadata{}, newLoadError(path, ErrCassetteLoadFailed, err.Error())
	}

	c, err := s.LoadFormat(path, format)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		Name:             c.Name,
		Path:             path,
		Format:           format,
		SizeBytes:        info.Size(),
		InteractionCount: len(c.Interactions),
		RecordedAt:       c.RecordedAt,
	}, nil
}

// SaveAsync enqueues a save job and returns immediately; the background
// writer goroutine drains queued jobs in FIFO submission order, logging
// and continuing past any single job's failure.
func (s *Store) SaveAsync(c *Cassette, path string, format Format) {
	s.pending.push(saveJob{cassette: c, path: path, format: format})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.shutdown:
			s.drain()
			return
		}
	}
}

func (s *Store) drain() {
	for _, job := range s.pending.popAll() {
		if err := s.Save(job.cassette, job.path, job.format); err != nil {
			s.log.Error().Err(err).Str("path", job.path).Msg("background cassette save failed")
		}
	}
}

// Close requests the background writer to drain any remaining queued jobs
// and exit; it sends the shutdown signal best-effort and does not block
// forever if the worker is already gone.
func (s *Store) Close() {
	if !s.started {
		return
	}
	select {
	case <-s.shutdown:
		// already closed
	default:
		close(s.shutdown)
	}
	<-s.done
}
