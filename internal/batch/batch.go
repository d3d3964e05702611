/**
 * Adaptive Batch Scheduler
 *
 * Runs a per-item function over N independent items, choosing between
 * sequential and parallel execution and resizing the chunk size from
 * observed process memory pressure. The feedback loop is reactive: it
 * looks only at the RSS sampled after the last chunk, never predicts.
 */

package batch

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// Config holds the scheduler knobs.
type Config struct {
	ParallelEnabled bool
	MaxWorkers      int
	MaxBatchSize    int
	MemoryLimitMB   int
}

// MemorySampler reports the current process memory usage in MB. Injected
// so tests can drive the feedback loop deterministically.
type MemorySampler func() float64

// CurrentMemoryMB returns the process resident set size in MB, or 0 when
// it cannot be sampled.
func CurrentMemoryMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}

// Scheduler executes item lists under the configured policy.
type Scheduler struct {
	cfg    Config
	sample MemorySampler
	logger zerolog.Logger
}

// New creates a scheduler sampling real process memory.
func New(cfg Config, logger zerolog.Logger) *Scheduler {
	return NewWithSampler(cfg, CurrentMemoryMB, logger)
}

// NewWithSampler creates a scheduler with a custom memory sampler.
func NewWithSampler(cfg Config, sample MemorySampler, logger zerolog.Logger) *Scheduler {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	if sample == nil {
		sample = CurrentMemoryMB
	}
	return &Scheduler{cfg: cfg, sample: sample, logger: logger}
}

// Process runs fn for indices [0, n). The returned slice always has
// length n, with results slotted by input index regardless of execution
// order. A failing item yields the zero value for its index only; the
// error is logged and the remaining items still run.
func Process[R any](ctx context.Context, s *Scheduler, n int, fn func(ctx context.Context, i int) (R, error)) []R {
	if n <= 0 {
		return []R{}
	}
	if !s.cfg.ParallelEnabled || n <= 1 {
		return processSequentially(ctx, s, 0, n, fn)
	}

	results := make([]R, 0, n)
	chunkSize := s.cfg.MaxBatchSize
	if n < chunkSize {
		chunkSize = n
	}

	for start := 0; start < n; {
		end := start + chunkSize
		if end > n {
			end = n
		}
		s.logger.Debug().Int("chunk_size", end-start).Msg("batch.chunk.processing")
		results = append(results, processChunkParallel(ctx, s, start, end, fn)...)
		start = end

		// Reactive resize for the next chunk only, from the last chunk's
		// observed memory pressure.
		currentMB := s.sample()
		limitMB := float64(s.cfg.MemoryLimitMB)
		switch {
		case limitMB > 0 && currentMB > limitMB*0.8:
			if chunkSize > 1 {
				chunkSize = chunkSize / 2
			}
			s.logger.Warn().
				Float64("memory_mb", currentMB).
				Int("new_chunk_size", chunkSize).
				Msg("batch.memory_high")
		case limitMB > 0 && currentMB < limitMB*0.4 && chunkSize < s.cfg.MaxBatchSize:
			chunkSize = chunkSize * 2
			if chunkSize > s.cfg.MaxBatchSize {
				chunkSize = s.cfg.MaxBatchSize
			}
			s.logger.Debug().
				Float64("memory_mb", currentMB).
				Int("new_chunk_size", chunkSize).
				Msg("batch.memory_low")
		}
	}
	return results
}

// processSequentially runs items [start, end) one at a time.
func processSequentially[R any](ctx context.Context, s *Scheduler, start, end int, fn func(ctx context.Context, i int) (R, error)) []R {
	results := make([]R, end-start)
	for i := start; i < end; i++ {
		result, err := fn(ctx, i)
		if err != nil {
			s.logger.Error().Err(err).Int("item_index", i).Msg("batch.item.failed")
			continue
		}
		results[i-start] = result
	}
	return results
}

// processChunkParallel runs items [start, end) on a bounded worker pool of
// MaxWorkers goroutines. Results are written to disjoint slots by index,
// so no additional locking is needed.
func processChunkParallel[R any](ctx context.Context, s *Scheduler, start, end int, fn func(ctx context.Context, i int) (R, error)) []R {
	results := make([]R, end-start)
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for i := start; i < end; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := fn(ctx, i)
			if err != nil {
				s.logger.Error().Err(err).Int("item_index", i).Msg("batch.item.failed")
				return
			}
			results[i-start] = result
		}(i)
	}
	wg.Wait()
	return results
}
