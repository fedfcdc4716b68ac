// Package sweep fails tasks whose worker stopped reporting. Workers run as
// detached processes, so a crash between dispatch and the terminal callback
// would otherwise leave a task RUNNING or PUSHING forever.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fentz26/gitpilot/internal/control"
	"github.com/fentz26/gitpilot/internal/models"
	"github.com/fentz26/gitpilot/internal/store"
)

// Sweeper periodically fails stale in-flight tasks.
type Sweeper struct {
	store      *store.Store
	controller *control.Controller
	interval   time.Duration
	deadline   time.Duration
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. interval is the poll cadence, deadline is the
// maximum age of a RUNNING or PUSHING task before it is declared dead.
func New(s *store.Store, c *control.Controller, interval, deadline time.Duration, log zerolog.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:      s,
		controller: c,
		interval:   interval,
		deadline:   deadline,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the sweep loop.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.loop()
	sw.log.Info().Dur("interval", sw.interval).Dur("deadline", sw.deadline).Msg("sweeper started")
}

// Stop gracefully stops the sweeper.
func (sw *Sweeper) Stop() {
	sw.cancel()
	sw.wg.Wait()
	sw.log.Info().Msg("sweeper stopped")
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep()
		}
	}
}

// Sweep runs one pass. Exported so tests and the daemon can force a pass.
func (sw *Sweeper) Sweep() {
	cutoff := time.Now().Add(-sw.deadline)
	stale, err := sw.store.ListStale(
		[]models.TaskStatus{models.TaskStatusRunning, models.TaskStatusPushing},
		cutoff,
	)
	if err != nil {
		sw.log.Error().Err(err).Msg("sweep: list stale tasks")
		return
	}

	for _, task := range stale {
		reason := "worker inactive past deadline; marked failed by sweeper"
		if err := sw.controller.Fail(task.ID, reason); err != nil {
			// Lost the race with a late worker callback; that is fine.
			sw.log.Debug().Err(err).Str("task", task.ID).Msg("sweep: fail skipped")
			continue
		}
		sw.log.Warn().Str("task", task.ID).Str("status", string(task.Status)).Msg("sweep: task failed for inactivity")
	}
}
