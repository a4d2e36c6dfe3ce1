package utils

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a fixed number of goroutines draining a bounded queue.
// Producers block on Queue() when it is full.
type WorkerPool struct {
	maxWorkers int
	queue      chan string
}

// NewWorkerPool creates a WorkerPool with the given concurrency and queue capacity.
func NewWorkerPool(maxWorkers, queueSize int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		queue:      make(chan string, queueSize),
	}
}

// Queue is the send side of the work queue. The producer owns closing it
// via Close once it stops emitting.
func (wp *WorkerPool) Queue() chan<- string {
	return wp.queue
}

// Close closes the queue. Items already queued are still delivered.
func (wp *WorkerPool) Close() {
	close(wp.queue)
}

// Run starts the workers and blocks until the queue is closed and drained,
// or until a job returns an error, which stops all workers. Cancelling ctx
// does not drop queued items; ctx is only handed to jobs.
func (wp *WorkerPool) Run(ctx context.Context, job func(ctx context.Context, item string) error) error {
	stop := make(chan struct{})
	var once sync.Once

	var g errgroup.Group
	for i := 0; i < wp.maxWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				case item, ok := <-wp.queue:
					if !ok {
						return nil
					}
					if err := job(ctx, item); err != nil {
						once.Do(func() { close(stop) })
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}

// Fingerprint identifies a version of a file's content on disk.
type Fingerprint struct {
	Size    int64
	ModTime int64
}

// FileSet is a thread-safe record of the last fingerprint seen per path.
type FileSet struct {
	mu   sync.RWMutex
	seen map[string]Fingerprint
}

// NewFileSet creates an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{seen: make(map[string]Fingerprint)}
}

// Mark returns true if the path is new or its fingerprint changed, and
// records fp. It returns false if fp equals the recorded fingerprint.
func (s *FileSet) Mark(path string, fp Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, exists := s.seen[path]; exists && prev == fp {
		return false
	}
	s.seen[path] = fp
	return true
}

// Forget drops the recorded fingerprint so the next Mark succeeds.
func (s *FileSet) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, path)
}

// Size returns the number of paths tracked.
func (s *FileSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
