package queue

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one task. An error marks the task as failed; the job
// ledger inside the handler is the audit trail, the returned error feeds
// logging and Sentry here.
type Handler func(ctx context.Context, task Task) error

// Worker pulls tasks from the shared queue until its context is cancelled.
type Worker struct {
	queue   *Queue
	handler Handler
	log     *logrus.Entry
}

func NewWorker(queue *Queue, handler Handler, log *logrus.Entry) *Worker {
	return &Worker{queue: queue, handler: handler, log: log}
}

// Run is the worker loop. One goroutine per worker; the delayed-set
// promotion races between workers are resolved inside promoteDue.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started")
	lastPromote := time.Time{}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		default:
		}

		if time.Since(lastPromote) >= promoteEvery {
			if err := w.queue.promoteDue(ctx); err != nil && ctx.Err() == nil {
				w.log.WithError(err).Error("failed to promote delayed tasks")
			}
			lastPromote = time.Now()
		}

		task, err := w.queue.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.WithError(err).Error("failed to pop task")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		taskLog := w.log.WithFields(logrus.Fields{
			"kind":           task.Kind,
			"post_id":        task.PostID,
			"media_group_id": task.MediaGroupID,
		})
		taskLog.Info("task started")

		if err := w.handler(ctx, *task); err != nil {
			taskLog.WithError(err).Error("task failed")
			sentry.CaptureException(err)
			continue
		}
		taskLog.Info("task finished")
	}
}
