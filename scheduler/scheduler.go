package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pricewatch/config"
	"pricewatch/models"
	"pricewatch/monitor"
	"pricewatch/storage"
)

const commandPollInterval = 2 * time.Second

// Checker is the part of the monitor the scheduler drives.
type Checker interface {
	CheckAll(ctx context.Context) (*monitor.SweepResult, error)
	CheckProduct(ctx context.Context, id string) (*monitor.Result, error)
}

// RunStore records sweeps and serves queued commands.
type RunStore interface {
	CreateRun(run *models.CheckRun) (int64, error)
	UpdateRun(run *models.CheckRun) error
	Log(runID *int64, level models.LogLevel, message, productID string) error
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	checker Checker
	store   RunStore
	cron    *cron.Cron
	stopCh  chan struct{}
	stop    sync.Once

	paused  atomic.Bool
	running atomic.Bool
}

// New builds a scheduler. store may be nil, in which case runs are not
// recorded and no commands are polled.
func New(cfg config.SchedulerConfig, checker Checker, store RunStore) *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cfg:     cfg,
		checker: checker,
		store:   store,
		cron:    cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		stopCh:  make(chan struct{}),
	}
}

// Schedule returns the cron expression the scheduler runs on.
func (s *Scheduler) Schedule() string {
	if s.cfg.Cron != "" {
		return s.cfg.Cron
	}
	return fmt.Sprintf("@every %s", s.cfg.Interval)
}

func (s *Scheduler) Start(ctx context.Context) error {
	schedule := s.Schedule()
	if _, err := s.cron.AddFunc(schedule, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Printf("[scheduler] starting with schedule: %s", schedule)
	s.cron.Start()

	if s.store != nil {
		go s.pollCommands(ctx)
	}
	return nil
}

// Stop halts the schedule and waits for an in-flight scheduled sweep.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		close(s.stopCh)
		<-s.cron.Stop().Done()
	})
}

// Running reports whether a scheduled sweep is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Pause skips scheduled sweeps until Resume. Manual triggers still run.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	log.Println("[scheduler] paused")
}

func (s *Scheduler) Resume() {
	s.paused.Store(false)
	log.Println("[scheduler] resumed")
}

// TriggerAll runs a sweep now on the caller's goroutine.
func (s *Scheduler) TriggerAll(ctx context.Context) (*monitor.SweepResult, error) {
	return s.sweep(ctx, models.TriggerManual)
}

// TriggerProduct checks one product now on the caller's goroutine.
func (s *Scheduler) TriggerProduct(ctx context.Context, id string) (*monitor.Result, error) {
	return s.checker.CheckProduct(ctx, id)
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if s.paused.Load() {
		log.Println("[scheduler] paused, skipping scheduled sweep")
		return
	}

	s.running.Store(true)
	defer s.running.Store(false)

	if _, err := s.sweep(ctx, models.TriggerScheduled); err != nil {
		log.Printf("[scheduler] scheduled sweep error: %v", err)
	}
}

func (s *Scheduler) sweep(ctx context.Context, trigger models.RunTrigger) (*monitor.SweepResult, error) {
	run := &models.CheckRun{
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
	}
	s.createRun(run)
	s.log(run, models.LogLevelInfo, fmt.Sprintf("Starting %s sweep", trigger))

	result, err := s.checker.CheckAll(ctx)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.RunStatusFailed
		s.log(run, models.LogLevelError, fmt.Sprintf("Sweep failed: %v", err))
	} else {
		run.Status = models.RunStatusCompleted
		run.ProductsChecked = result.Checked
		run.ProductsFailed = result.Failed
		run.AlertsCreated = len(result.Alerts)
		s.log(run, models.LogLevelInfo, fmt.Sprintf("Sweep done: %d checked, %d failed, %d alerts",
			result.Checked, result.Failed, len(result.Alerts)))
	}
	s.updateRun(run)

	return result, err
}

func (s *Scheduler) createRun(run *models.CheckRun) {
	if s.store == nil {
		return
	}
	id, err := s.store.CreateRun(run)
	if err != nil {
		log.Printf("[scheduler] create run record: %v", err)
		return
	}
	run.ID = id
}

func (s *Scheduler) updateRun(run *models.CheckRun) {
	if s.store == nil || run.ID == 0 {
		return
	}
	if err := s.store.UpdateRun(run); err != nil {
		log.Printf("[scheduler] update run %d: %v", run.ID, err)
	}
}

func (s *Scheduler) log(run *models.CheckRun, level models.LogLevel, msg string) {
	log.Printf("[scheduler] %s", msg)
	if s.store == nil {
		return
	}
	var runID *int64
	if run.ID != 0 {
		runID = &run.ID
	}
	if err := s.store.Log(runID, level, msg, ""); err != nil {
		log.Printf("[scheduler] persist log: %v", err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.store.GetPendingCommands()
	if err != nil {
		log.Printf("[scheduler] get commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("[scheduler] processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("[scheduler] command %d (%s): %v", cmd.ID, cmd.Command, err)
		}
		if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("[scheduler] mark command %d processed: %v", cmd.ID, err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdCheckAll:
		_, err := s.sweep(ctx, models.TriggerCommand)
		return err
	case models.CmdCheckProduct:
		params, err := storage.ParseCommandParams(cmd)
		if err != nil {
			return err
		}
		if params.ProductID == "" {
			return errors.New("check_product requires product_id")
		}
		_, err = s.checker.CheckProduct(ctx, params.ProductID)
		return err
	case models.CmdPause:
		s.Pause()
		return nil
	case models.CmdResume:
		s.Resume()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}
