// Package queue consumes storage notifications from message brokers and
// forwards the objects they name.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/hecforward/internal/model"
	"github.com/tinytelemetry/hecforward/internal/notification"
	"github.com/tinytelemetry/hecforward/internal/pipeline"
)

// defaultDrainTimeout is how long a message that was already being forwarded
// may keep running after the consumer is asked to stop.
const defaultDrainTimeout = 20 * time.Second

var (
	// ErrMalformed marks a message whose body is not a notification document.
	// Such messages are never retried.
	ErrMalformed = errors.New("queue: malformed notification")
	// ErrInterrupted marks a message that was not forwarded to the end
	// because the consumer stopped. Such messages must be redelivered.
	ErrInterrupted = errors.New("queue: forwarding interrupted")
)

// Runner forwards the objects named by one notification.
type Runner interface {
	Run(ctx context.Context, refs []model.ObjectRef) (pipeline.Result, error)
}

// process parses body and runs it. It returns an error wrapping ErrMalformed
// or ErrInterrupted; any other forwarding failure is logged and the message
// counts as consumed, so delivered events are not sent twice.
//
// A message that has started runs detached from ctx: once ctx is cancelled it
// gets drain more time to finish before it is cut short.
func process(ctx context.Context, runner Runner, source string, body []byte, drain time.Duration) error {
	refs, err := notification.Parse(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	runCtx, cancel := drainContext(ctx, drain)
	defer cancel()

	res, err := runner.Run(runCtx, refs)
	log.Printf("queue: %s: objects=%d failed=%d events=%d delivered=%d dropped=%d",
		source, res.Objects, res.Failed, res.Events, res.Delivered, res.Dropped)
	if runCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, runCtx.Err())
	}
	if err != nil {
		log.Printf("queue: %s: forward %d objects: %v", source, len(refs), err)
	}
	return nil
}

// drainContext returns a context that ignores the cancellation of parent
// until drain has elapsed after it.
func drainContext(parent context.Context, drain time.Duration) (context.Context, context.CancelFunc) {
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(drain)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
