/*
Package jobs runs the engine's background work: the accrual worker pool and
the daily expiry scheduler.

ACCRUAL QUEUE:
  The timesheet state machine publishes a command after its transition
  commits; a worker consumes it, runs the allocation ledger manager, and
  publishes a completion or failure event. At-least-once: accrual itself is
  idempotent, so redelivery is harmless.

RETRY POLICY:
  Only retryable (infrastructure) failures are retried, with a delay between
  attempts. Conflict and validation failures are terminal: retrying cannot
  fix the caller's state.
*/
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/toil-engine/toil"
)

// AccrualCommand asks the pool to accrue one approved timesheet.
type AccrualCommand struct {
	TimesheetID toil.TimesheetID
	Attempt     int
}

// AccrualEvent reports the outcome of one command.
type AccrualEvent struct {
	TimesheetID  toil.TimesheetID
	AllocationID toil.AllocationID
	Err          error
}

// AccrualQueue is the in-process job queue feeding the worker pool.
type AccrualQueue struct {
	Manager     *toil.AccrualManager
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	Log         zerolog.Logger

	cmds   chan AccrualCommand
	events chan AccrualEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   bool
}

func NewAccrualQueue(manager *toil.AccrualManager, workers int, log zerolog.Logger) *AccrualQueue {
	if workers < 1 {
		workers = 1
	}
	return &AccrualQueue{
		Manager:     manager,
		Workers:     workers,
		MaxAttempts: 5,
		RetryDelay:  2 * time.Second,
		Log:         log,
		cmds:        make(chan AccrualCommand, 64),
		events:      make(chan AccrualEvent, 64),
		stop:        make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *AccrualQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.runs {
		return
	}
	q.runs = true

	for i := 0; i < q.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.Log.Info().Int("workers", q.Workers).Msg("accrual queue started")
}

// Stop drains the pool. Commands already enqueued are abandoned; the
// state machine re-enqueues on the next approval replay.
func (q *AccrualQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.runs {
		return
	}
	q.runs = false
	close(q.stop)
	q.wg.Wait()
	q.Log.Info().Msg("accrual queue stopped")
}

// EnqueueAccrual implements toil.AccrualEnqueuer. Blocks if the buffer is
// full rather than dropping the command.
func (q *AccrualQueue) EnqueueAccrual(id toil.TimesheetID) {
	select {
	case q.cmds <- AccrualCommand{TimesheetID: id, Attempt: 1}:
	case <-q.stop:
	}
}

// Events exposes completion/failure events for logging or test
// synchronization.
func (q *AccrualQueue) Events() <-chan AccrualEvent { return q.events }

func (q *AccrualQueue) worker(n int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case cmd := <-q.cmds:
			q.process(cmd)
		}
	}
}

func (q *AccrualQueue) process(cmd AccrualCommand) {
	ctx := context.Background()
	allocID, err := q.Manager.Accrue(ctx, cmd.TimesheetID)

	if err != nil && toil.IsRetryable(err) && cmd.Attempt < q.MaxAttempts {
		q.Log.Warn().
			Str("timesheet", string(cmd.TimesheetID)).
			Int("attempt", cmd.Attempt).
			Err(err).
			Msg("accrual failed, will retry")
		q.retryLater(AccrualCommand{TimesheetID: cmd.TimesheetID, Attempt: cmd.Attempt + 1})
		return
	}

	if err != nil {
		q.Log.Error().
			Str("timesheet", string(cmd.TimesheetID)).
			Int("attempt", cmd.Attempt).
			Err(err).
			Msg("accrual abandoned")
	}
	q.publish(AccrualEvent{TimesheetID: cmd.TimesheetID, AllocationID: allocID, Err: err})
}

func (q *AccrualQueue) retryLater(cmd AccrualCommand) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-q.stop:
		case <-time.After(q.RetryDelay):
			select {
			case q.cmds <- cmd:
			case <-q.stop:
			}
		}
	}()
}

func (q *AccrualQueue) publish(ev AccrualEvent) {
	select {
	case q.events <- ev:
	default:
		// Nobody is draining events; drop rather than stall the worker.
	}
}

var _ toil.AccrualEnqueuer = (*AccrualQueue)(nil)
