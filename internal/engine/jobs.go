package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/storage"
)

type Job interface {
	Do()
}

// Workers run queued jobs on a fixed number of goroutines.
type Workers struct {
	jobs chan Job
	wg   sync.WaitGroup
	once sync.Once
}

func StartWorkers(count, queueSize uint) *Workers {
	if count == 0 {
		count = 1
	}
	w := &Workers{jobs: make(chan Job, queueSize)}

	for i := uint(0); i < count; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for job := range w.jobs {
				job.Do()
			}
		}()
	}
	return w
}

// Submit queues job, giving up when ctx ends first.
func (w *Workers) Submit(ctx context.Context, job Job) bool {
	select {
	case w.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop waits for the queued jobs. Submit must not be called afterwards.
func (w *Workers) Stop() {
	w.once.Do(func() { close(w.jobs) })
	w.wg.Wait()
}

type trafficJob struct {
	storage storage.Storage
	log     storage.Log
	logger  *zap.Logger
}

func (j *trafficJob) Do() {
	if err := j.storage.Store(j.log); err != nil {
		j.logger.Error("Error in logging the request into Storage",
			zap.String("url", j.log.URL),
			zap.String("method", j.log.Method),
			zap.Error(err))
	}
}
