// Package pipeline wires the watcher, parser, store and materializer
// together and owns startup and shutdown ordering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"availability-watcher/config"
	"availability-watcher/models"
	"availability-watcher/parser"
	"availability-watcher/storage"
	"availability-watcher/utils"
	"availability-watcher/watcher"
)

// Stats summarizes pipeline activity.
type Stats struct {
	Admitted       int
	Duplicates     int
	FilesParsed    int64
	FilesFailed    int64
	FilesUnchanged int64
	RowsAppended   int
	Rewrites       int
	LastRewrite    time.Time
}

const defaultMirrorTimeout = 5 * time.Second

// rowCounter is implemented by sinks that can report how many rows they hold.
type rowCounter interface {
	Count(ctx context.Context) (int, error)
}

// Coordinator runs the ingestion pipeline.
type Coordinator struct {
	cfg    *config.Config
	logger *utils.Logger

	store   *storage.Store
	mat     *storage.Materializer
	watcher *watcher.Watcher
	pool    *utils.WorkerPool
	files   *utils.FileSet
	retry   *utils.RetryConfig
	mirror  storage.RecordSink

	// stop is the caller's context from Run. Mirror writes derive from it
	// so shutdown interrupts them even while workers drain.
	stop context.Context

	filesParsed    atomic.Int64
	filesFailed    atomic.Int64
	filesUnchanged atomic.Int64
}

// New builds a Coordinator from cfg. No files are written until Run.
func New(cfg *config.Config, logger *utils.Logger) (*Coordinator, error) {
	store := storage.NewStore()
	mat, err := storage.NewMaterializer(cfg.OutputPath, cfg.SnapshotPath, store, logger)
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(cfg.WatchDir, watcher.Options{
		Pattern:     cfg.ArtifactPattern,
		SettleDelay: cfg.SettleDelay,
		Exclude:     []string{cfg.OutputPath, cfg.SnapshotPath},
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		mat:     mat,
		watcher: w,
		pool:    utils.NewWorkerPool(cfg.MaxConcurrency, cfg.QueueSize),
		files:   utils.NewFileSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   200 * time.Millisecond,
			Logger:      logger,
		},
	}, nil
}

// SetMirror attaches a secondary sink that receives every admitted batch.
// The coordinator closes it when Run returns.
func (c *Coordinator) SetMirror(sink storage.RecordSink) {
	c.mirror = sink
}

// Run hydrates from the snapshot, establishes the output files, then
// ingests until ctx is cancelled. On cancellation it stops the watcher,
// lets queued files drain, performs a final sorted rewrite and returns
// nil. A durable write failure stops everything and is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	c.stop = ctx
	defer c.closeOutputs()

	if err := c.hydrate(); err != nil {
		return err
	}
	if err := c.mat.Rewrite(); err != nil {
		return err
	}
	c.logger.Info("[pipeline] Output %s initialised with %d records", c.cfg.OutputPath, c.store.Len())

	rewriteRequests := make(chan struct{})
	scheduler := NewResortScheduler(c.cfg.ResortInterval, rewriteRequests, c.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer c.pool.Close()
		return c.watcher.Run(gctx, c.pool.Queue())
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return c.rewriteLoop(gctx, rewriteRequests)
	})
	g.Go(func() error {
		// Queued files are drained even after cancellation.
		return c.pool.Run(context.WithoutCancel(ctx), c.ProcessFile)
	})

	err := g.Wait()
	if err == nil {
		err = c.mat.Err()
	}
	if err != nil {
		c.logger.Error("[pipeline] Stopping on unrecoverable error: %v", err)
		return err
	}

	c.logger.Info("[pipeline] Ingestion stopped, writing final sorted output")
	if err := c.mat.Rewrite(); err != nil {
		return err
	}
	c.logStats("final")
	return nil
}

func (c *Coordinator) rewriteLoop(ctx context.Context, requests <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requests:
			if err := c.mat.Rewrite(); err != nil {
				return err
			}
			c.logStats("resort")
		}
	}
}

// hydrate admits the records of a previous run's snapshot.
func (c *Coordinator) hydrate() error {
	records, invalid, err := storage.LoadSnapshot(c.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("pipeline: hydrate: %w", err)
	}
	if len(records) == 0 && invalid == 0 {
		return nil
	}
	admitted := c.store.AdmitBatch(records)
	c.logger.Info("[pipeline] Hydrated %d records from %s (%d duplicate, %d invalid)",
		len(admitted), c.cfg.SnapshotPath, len(records)-len(admitted), invalid)
	return nil
}

// ProcessFile parses one artifact and admits its records. Only durable
// write failures are returned; read and parse problems are logged.
func (c *Coordinator) ProcessFile(ctx context.Context, path string) error {
	if err := c.mat.Err(); err != nil {
		return err
	}
	log := c.logger.WithField("artifact", filepath.Base(path))

	var info os.FileInfo
	err := c.retry.Do(ctx, "stat "+filepath.Base(path), func() error {
		var err error
		info, err = os.Stat(path)
		return err
	})
	if err != nil {
		log.Warn("[pipeline] Cannot stat artifact: %v", err)
		return nil
	}
	fp := utils.Fingerprint{Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	if !c.files.Mark(path, fp) {
		c.filesUnchanged.Add(1)
		log.Debug("[pipeline] Unchanged since last parse, skipping")
		return nil
	}

	var data []byte
	err = c.retry.Do(ctx, "read "+filepath.Base(path), func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		// Let a later event for the same content try again.
		c.files.Forget(path)
		log.Warn("[pipeline] Cannot read artifact: %v", err)
		return nil
	}

	res, err := parser.Parse(data, parser.Options{SkipZeroAvailability: c.cfg.SkipZeroAvailability})
	if err != nil {
		c.filesFailed.Add(1)
		log.Warn("[pipeline] %v", err)
		return nil
	}
	c.filesParsed.Add(1)
	if res.NoData {
		log.Debug("[pipeline] No resort data in artifact")
	}

	admitted := c.store.AdmitBatch(res.Records)
	if err := c.mat.Append(admitted); err != nil {
		return err
	}

	if len(res.Records) > 0 || res.Skipped > 0 {
		log.Info("[pipeline] Parsed %d records: %d new, %d duplicate, %d skipped (total %d)",
			len(res.Records), len(admitted), len(res.Records)-len(admitted), res.Skipped, c.store.Len())
	}

	if c.mirror != nil && len(admitted) > 0 {
		records := make([]models.AvailabilityRecord, len(admitted))
		for i, e := range admitted {
			records[i] = e.Record
		}
		c.writeMirror(ctx, log, records)
	}
	return nil
}

// writeMirror hands records to the mirror with a bounded deadline. A slow
// or unreachable mirror costs at most MirrorTimeout per batch and never
// holds up shutdown.
func (c *Coordinator) writeMirror(ctx context.Context, log *utils.Logger, records []models.AvailabilityRecord) {
	parent := ctx
	if c.stop != nil {
		parent = c.stop
	}
	mctx, cancel := context.WithTimeout(parent, c.mirrorTimeout())
	defer cancel()

	if err := c.mirror.Write(mctx, records); err != nil {
		log.Warn("[pipeline] Mirror write of %d records failed: %v", len(records), err)
	}
}

// Stats returns a snapshot of pipeline counters.
func (c *Coordinator) Stats() Stats {
	ss := c.store.Stats()
	ms := c.mat.Stats()
	return Stats{
		Admitted:       ss.Admitted,
		Duplicates:     ss.Duplicates,
		FilesParsed:    c.filesParsed.Load(),
		FilesFailed:    c.filesFailed.Load(),
		FilesUnchanged: c.filesUnchanged.Load(),
		RowsAppended:   ms.RowsAppended,
		Rewrites:       ms.Rewrites,
		LastRewrite:    ms.LastRewrite,
	}
}

func (c *Coordinator) logStats(phase string) {
	s := c.Stats()
	c.logger.Info("[pipeline] %s: %d records, %d duplicates, %d files parsed, %d malformed, %d rewrites (last %s)",
		phase, s.Admitted, s.Duplicates, s.FilesParsed, s.FilesFailed, s.Rewrites,
		s.LastRewrite.Format("15:04:05"))
}

func (c *Coordinator) mirrorTimeout() time.Duration {
	if c.cfg.MirrorTimeout > 0 {
		return c.cfg.MirrorTimeout
	}
	return defaultMirrorTimeout
}

func (c *Coordinator) closeOutputs() {
	if c.mirror != nil {
		if counter, ok := c.mirror.(rowCounter); ok {
			ctx, cancel := context.WithTimeout(context.Background(), c.mirrorTimeout())
			if n, err := counter.Count(ctx); err != nil {
				c.logger.Warn("[pipeline] Counting mirror rows: %v", err)
			} else {
				c.logger.Info("[pipeline] Mirror holds %d rows", n)
			}
			cancel()
		}
		if err := c.mirror.Close(); err != nil {
			c.logger.Warn("[pipeline] Closing mirror: %v", err)
		}
	}
	if err := c.mat.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		c.logger.Warn("[pipeline] Closing output: %v", err)
	}
}
