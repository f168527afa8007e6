package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/config"
	"pricewatch/models"
	"pricewatch/monitor"
)

type fakeChecker struct {
	mu       sync.Mutex
	sweeps   int
	products []string
	sweepErr error
	block    chan struct{}
	started  atomic.Int32
}

func (c *fakeChecker) CheckAll(ctx context.Context) (*monitor.SweepResult, error) {
	c.started.Add(1)
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps++
	if c.sweepErr != nil {
		return nil, c.sweepErr
	}
	return &monitor.SweepResult{
		Checked: 3,
		Failed:  1,
		Alerts:  []models.Alert{{ID: "a1"}, {ID: "a2"}},
	}, nil
}

func (c *fakeChecker) CheckProduct(ctx context.Context, id string) (*monitor.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = append(c.products, id)
	return &monitor.Result{Product: &models.Product{ID: id}, Alerts: []models.Alert{}}, nil
}

func (c *fakeChecker) sweepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweeps
}

type fakeRunStore struct {
	mu        sync.Mutex
	runs      map[int64]models.CheckRun
	nextID    int64
	logs      []string
	commands  []models.Command
	processed []int64
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[int64]models.CheckRun)}
}

func (s *fakeRunStore) CreateRun(run *models.CheckRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.runs[s.nextID] = *run
	return s.nextID, nil
}

func (s *fakeRunStore) UpdateRun(run *models.CheckRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *fakeRunStore) Log(runID *int64, level models.LogLevel, message, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, message)
	return nil
}

func (s *fakeRunStore) GetPendingCommands() ([]models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.commands
	s.commands = nil
	return pending, nil
}

func (s *fakeRunStore) MarkCommandProcessed(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, id)
	return nil
}

func (s *fakeRunStore) enqueue(id int64, cmd models.CommandType, params string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, models.Command{ID: id, Command: cmd, Params: json.RawMessage(params)})
}

func TestSchedule(t *testing.T) {
	s := New(config.SchedulerConfig{Interval: 6 * time.Hour}, &fakeChecker{}, nil)
	assert.Equal(t, "@every 6h0m0s", s.Schedule())

	s = New(config.SchedulerConfig{Interval: time.Hour, Cron: "0 */6 * * *"}, &fakeChecker{}, nil)
	assert.Equal(t, "0 */6 * * *", s.Schedule())
}

func TestStart_InvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &fakeChecker{}, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestStartStop(t *testing.T) {
	s := New(config.SchedulerConfig{Interval: time.Hour}, &fakeChecker{}, newFakeRunStore())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

func TestRunScheduled_RecordsRun(t *testing.T) {
	checker := &fakeChecker{}
	store := newFakeRunStore()
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, store)

	s.runScheduled(context.Background())

	require.Equal(t, 1, checker.sweepCount())
	require.Len(t, store.runs, 1)
	run := store.runs[1]
	assert.Equal(t, models.TriggerScheduled, run.Trigger)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ProductsChecked)
	assert.Equal(t, 1, run.ProductsFailed)
	assert.Equal(t, 2, run.AlertsCreated)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, s.Running())
}

func TestRunScheduled_FailedSweep(t *testing.T) {
	checker := &fakeChecker{sweepErr: errors.New("registry down")}
	store := newFakeRunStore()
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, store)

	s.runScheduled(context.Background())

	assert.Equal(t, models.RunStatusFailed, store.runs[1].Status)
	assert.Contains(t, store.logs[len(store.logs)-1], "registry down")
}

func TestRunScheduled_SkippedWhilePaused(t *testing.T) {
	checker := &fakeChecker{}
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, nil)

	s.Pause()
	s.runScheduled(context.Background())
	assert.Zero(t, checker.sweepCount())

	// manual triggers ignore the pause
	res, err := s.TriggerAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, checker.sweepCount())

	s.Resume()
	s.runScheduled(context.Background())
	assert.Equal(t, 2, checker.sweepCount())
}

func TestRunning(t *testing.T) {
	checker := &fakeChecker{block: make(chan struct{})}
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, nil)

	done := make(chan struct{})
	go func() {
		s.runScheduled(context.Background())
		close(done)
	}()

	assert.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	close(checker.block)
	<-done
	assert.False(t, s.Running())
}

func TestProcessCommands(t *testing.T) {
	checker := &fakeChecker{}
	store := newFakeRunStore()
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, store)

	store.enqueue(1, models.CmdPause, "{}")
	store.enqueue(2, models.CmdCheckProduct, `{"product_id":"p1"}`)
	store.enqueue(3, models.CmdCheckAll, "")
	store.enqueue(4, models.CmdCheckProduct, "{}")
	store.enqueue(5, "reboot", "")

	s.processCommands(context.Background())

	assert.True(t, s.Paused())
	assert.Equal(t, []string{"p1"}, checker.products)
	assert.Equal(t, 1, checker.sweepCount())
	assert.Equal(t, models.TriggerCommand, store.runs[1].Trigger)
	// failed commands are still marked processed
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, store.processed)

	store.enqueue(6, models.CmdResume, "")
	s.processCommands(context.Background())
	assert.False(t, s.Paused())
}

func TestTriggerProduct(t *testing.T) {
	checker := &fakeChecker{}
	s := New(config.SchedulerConfig{Interval: time.Hour}, checker, nil)

	res, err := s.TriggerProduct(context.Background(), "p9")
	require.NoError(t, err)
	assert.Equal(t, "p9", res.Product.ID)
}

func TestScheduledSweepsDoNotStack(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for several cron ticks")
	}
	checker := &fakeChecker{block: make(chan struct{})}
	// cron rounds @every up to one second
	s := New(config.SchedulerConfig{Cron: "@every 1s"}, checker, nil)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, s.Running, 3*time.Second, 10*time.Millisecond)

	// let at least two more ticks fire while the first sweep is blocked
	time.Sleep(2500 * time.Millisecond)
	assert.EqualValues(t, 1, checker.started.Load())
	assert.Zero(t, checker.sweepCount())

	close(checker.block)
	s.Stop()
	assert.GreaterOrEqual(t, checker.sweepCount(), 1)
	assert.False(t, s.Running())
}
