package store

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

// AsyncSaver decouples job persistence from the pipeline's hot path.
// Saves are buffered and written by a background goroutine with bounded
// retries; a full buffer drops the save with a warning rather than
// stalling analysis.
type AsyncSaver struct {
	store Store
	ch    chan *model.Job
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewAsyncSaver wraps store with a buffer of bufferSize pending saves.
func NewAsyncSaver(store Store, bufferSize int) *AsyncSaver {
	if bufferSize < 1 {
		bufferSize = 1024
	}
	return &AsyncSaver{
		store: store,
		ch:    make(chan *model.Job, bufferSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background writer.
func (w *AsyncSaver) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Enqueue schedules a save of a snapshot of job.
func (w *AsyncSaver) Enqueue(job *model.Job) {
	select {
	case w.ch <- job.Clone():
	default:
		log.Warn().Str("job_id", job.ID).Msg("save buffer full, dropping snapshot")
	}
}

// Flush drains pending saves, waiting at most timeout.
func (w *AsyncSaver) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("job saver flushed")
	case <-time.After(timeout):
		log.Warn().Msg("job saver flush timed out")
	}
}

func (w *AsyncSaver) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case job := <-w.ch:
			w.saveWithRetry(job)
		case <-w.done:
			for {
				select {
				case job := <-w.ch:
					w.saveWithRetry(job)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncSaver) saveWithRetry(job *model.Job) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.Save(ctx, job)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("job_id", job.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("job save failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("job_id", job.ID).
				Msg("job save failed permanently after retries")
		}
	}
}
