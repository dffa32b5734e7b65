package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/flashbot/internal/cache/redis"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/executor"
)

// fanout delivers each finished execution to every configured sink. Sink
// failures are logged and never reach the caller; the guarded call already
// committed or reverted by the time it is recorded.
type fanout struct {
	store     domain.ExecutionStore
	publisher *redis.ExecutionPublisher
	buffer    *archiveBuffer
	sinks     []executor.Recorder
	count     atomic.Int64
	logger    *slog.Logger
}

func (f *fanout) addSink(r executor.Recorder) {
	f.sinks = append(f.sinks, r)
}

// RecordExecution implements executor.Recorder.
func (f *fanout) RecordExecution(ctx context.Context, exec domain.Execution) {
	f.count.Add(1)
	log := f.logger.With(slog.String("execution_id", exec.ID))

	if f.store != nil {
		if err := f.store.Create(ctx, exec); err != nil {
			log.Warn("persist execution failed", slog.String("error", err.Error()))
		}
	}
	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, exec); err != nil {
			log.Warn("publish execution failed", slog.String("error", err.Error()))
		}
	}
	if f.buffer != nil {
		f.buffer.add(exec)
	}
	for _, s := range f.sinks {
		s.RecordExecution(ctx, exec)
	}
}

// Count returns how many executions have been recorded.
func (f *fanout) Count() int64 {
	return f.count.Load()
}

// archiveBuffer holds executions until the next archive tick.
type archiveBuffer struct {
	mu    sync.Mutex
	execs []domain.Execution
}

func (b *archiveBuffer) add(exec domain.Execution) {
	b.mu.Lock()
	b.execs = append(b.execs, exec)
	b.mu.Unlock()
}

// flush archives the buffered batch. When the upload fails the batch is put
// back in front of anything recorded meanwhile. An error with a non-empty
// path means the upload landed and only the audit entry failed.
func (b *archiveBuffer) flush(ctx context.Context, archiver domain.ExecutionArchiver) (string, int, error) {
	b.mu.Lock()
	batch := b.execs
	b.execs = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return "", 0, nil
	}
	path, err := archiver.Archive(ctx, batch)
	if err != nil && path == "" {
		b.mu.Lock()
		b.execs = append(batch, b.execs...)
		b.mu.Unlock()
		return "", 0, err
	}
	return path, len(batch), err
}
