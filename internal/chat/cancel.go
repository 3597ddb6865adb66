package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/parley/internal/events"
)

var (
	ErrNoActiveTask   = errors.New("no active task")
	ErrCancelInFlight = errors.New("cancellation already requested")
)

// CancelCurrentTask asks the backend to cancel the streaming task. The
// optimistic flag flips immediately; resolution comes either from the
// stream's terminal event or, failing that, from the timeout fallback.
func (e *Engine) CancelCurrentTask(ctx context.Context) error {
	e.mu.Lock()
	if e.currentTaskID == "" || !e.isResponding {
		e.mu.Unlock()
		return ErrNoActiveTask
	}
	if e.isCancelling {
		e.mu.Unlock()
		return ErrCancelInFlight
	}
	taskID := e.currentTaskID
	e.isCancelling = true
	e.mu.Unlock()

	if err := e.gw.CancelTask(ctx, taskID); err != nil {
		e.mu.Lock()
		if e.currentTaskID == taskID {
			e.isCancelling = false
		}
		e.mu.Unlock()
		e.notify(events.SeverityError, "Cancel request failed.")
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}

	e.mu.Lock()
	if e.currentTaskID == taskID && e.isCancelling {
		e.stopCancelTimerLocked()
		e.cancelTimer = time.AfterFunc(e.cancelTimeout, func() {
			e.onCancelTimeout(taskID)
		})
	}
	e.mu.Unlock()
	return nil
}

// onCancelTimeout fires when the backend never confirmed a cancel with
// a terminal event. Local state is force-cleared so the session is
// usable again; the subscription is torn down exactly once.
func (e *Engine) onCancelTimeout(taskID string) {
	e.mu.Lock()
	if e.currentTaskID != taskID || !e.isCancelling {
		e.mu.Unlock()
		return
	}
	e.log.Warn("cancel confirmation timed out", "task_id", taskID)

	e.dropTailStatusBubbleLocked()
	e.failPendingArtifactsLocked(e.seq, taskID)
	e.completeLastAgentMessageLocked(e.seq, taskID)
	e.setStatusTextLocked("")
	e.isResponding = false
	e.isCancelling = false
	e.cancelTimer = nil
	sub := e.sub
	e.sub = nil
	e.currentTaskID = ""
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}

	e.notify(events.SeverityWarning, "Cancellation not confirmed by the agent; stopped locally.")
	e.publish(events.NewEvent(events.EventTurnCanceled, events.SourceEngine, map[string]any{
		"task_id":   taskID,
		"timed_out": true,
	}))
}
