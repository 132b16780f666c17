package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xsequence/sidekick-sub001/internal/database"
	"github.com/0xsequence/sidekick-sub001/internal/queue"
	"github.com/stretchr/testify/suite"
)

type QueueTestSuite struct {
	suite.Suite
	db *database.Database
}

func (suite *QueueTestSuite) SetupTest() {
	db, err := database.NewDatabase(":memory:")
	suite.Require().NoError(err)
	suite.db = db
}

func (suite *QueueTestSuite) TearDownTest() {
	suite.db.Close()
}

func (suite *QueueTestSuite) newQueue() *queue.Queue {
	return queue.New(suite.db.DB, queue.Options{
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: time.Minute,
	})
}

func (suite *QueueTestSuite) TestScheduleReturnsRepeatKeyDirectly() {
	q := suite.newQueue()

	before := time.Now()
	jobID, repeatKey, err := q.Schedule(context.Background(), "test-task", []byte(`{}`), time.Minute)
	suite.Require().NoError(err)
	suite.NotEmpty(jobID)
	suite.NotEmpty(repeatKey)

	tasks, err := q.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(tasks, 1)
	suite.Equal(jobID, tasks[0].JobID)
	suite.Equal(repeatKey, tasks[0].RepeatKey)
	suite.Equal(int64(60_000), tasks[0].EveryMs)
	suite.WithinDuration(before.Add(time.Minute), tasks[0].NextRunAt, 2*time.Second)
}

func (suite *QueueTestSuite) TestScheduleRejectsNonPositivePeriod() {
	q := suite.newQueue()

	_, _, err := q.Schedule(context.Background(), "test-task", nil, 0)
	suite.ErrorIs(err, queue.ErrInvalidPeriod)
}

func (suite *QueueTestSuite) TestScheduleCronRejectsInvalidExpression() {
	q := suite.newQueue()

	_, _, err := q.ScheduleCron(context.Background(), "test-task", nil, "not a cron expr")
	suite.Error(err)

	tasks, err := q.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Empty(tasks)
}

func (suite *QueueTestSuite) TestScheduleCronComputesNextRun() {
	q := suite.newQueue()

	_, _, err := q.ScheduleCron(context.Background(), "test-task", nil, "*/5 * * * *")
	suite.Require().NoError(err)

	tasks, err := q.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(tasks, 1)
	suite.True(tasks[0].NextRunAt.After(time.Now()))
	suite.Equal("*/5 * * * *", tasks[0].CronExpr)
}

func (suite *QueueTestSuite) TestFiresHandlerOnInterval() {
	q := suite.newQueue()

	var fires atomic.Int64
	q.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		fires.Add(1)
		return nil
	})

	_, _, err := q.Schedule(context.Background(), "test-task", []byte(`{"n":1}`), 40*time.Millisecond)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	suite.Eventually(func() bool { return fires.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	q.Stop()
}

func (suite *QueueTestSuite) TestSameTaskDoesNotOverlap() {
	q := suite.newQueue()

	var started atomic.Int64
	release := make(chan struct{})
	q.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		started.Add(1)
		<-release
		return nil
	})

	_, _, err := q.Schedule(context.Background(), "test-task", nil, 20*time.Millisecond)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	suite.Eventually(func() bool { return started.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Several periods elapse while the first tick is still running; the
	// lease must hold off every one of them.
	time.Sleep(150 * time.Millisecond)
	suite.Equal(int64(1), started.Load())

	close(release)
	q.Stop()
}

func (suite *QueueTestSuite) TestStopWaitsForInFlightHandler() {
	q := suite.newQueue()

	started := make(chan struct{})
	release := make(chan struct{})
	q.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		close(started)
		<-release
		return nil
	})

	_, _, err := q.Schedule(context.Background(), "test-task", nil, 20*time.Millisecond)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		suite.FailNow("handler never fired")
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	// Stop must not return while the handler is still running.
	select {
	case <-stopped:
		suite.FailNow("Stop returned with a handler in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		suite.FailNow("Stop never returned after handler finished")
	}
}

func (suite *QueueTestSuite) TestCancelRepeatingStopsFiring() {
	q := suite.newQueue()

	var fires atomic.Int64
	q.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		fires.Add(1)
		return nil
	})

	_, repeatKey, err := q.Schedule(context.Background(), "test-task", nil, 30*time.Millisecond)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	suite.Eventually(func() bool { return fires.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	suite.Require().NoError(q.CancelRepeating(context.Background(), repeatKey))
	settled := fires.Load()
	time.Sleep(150 * time.Millisecond)
	suite.LessOrEqual(fires.Load(), settled+1) // at most one in-flight tick completes

	// Second cancel reports not found.
	suite.ErrorIs(q.CancelRepeating(context.Background(), repeatKey), queue.ErrTaskNotFound)
	q.Stop()
}

func (suite *QueueTestSuite) TestResumesAfterRestart() {
	// First queue instance persists the task but never runs.
	q1 := suite.newQueue()
	_, _, err := q1.Schedule(context.Background(), "test-task", []byte(`{"n":2}`), 30*time.Millisecond)
	suite.Require().NoError(err)

	// A fresh instance over the same database picks the task up without
	// re-registration.
	q2 := suite.newQueue()
	var fires atomic.Int64
	q2.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		suite.Equal("test-task", task.Name)
		suite.JSONEq(`{"n":2}`, string(task.Payload))
		fires.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q2.Run(ctx)

	suite.Eventually(func() bool { return fires.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	q2.Stop()
}

func (suite *QueueTestSuite) TestHandlerReceivesScheduledTickTime() {
	q := suite.newQueue()

	ticks := make(chan time.Time, 16)
	q.RegisterHandler("test-task", func(ctx context.Context, task queue.Task) error {
		ticks <- task.TickAt
		return nil
	})

	before := time.Now()
	_, _, err := q.Schedule(context.Background(), "test-task", nil, 30*time.Millisecond)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case tick := <-ticks:
		suite.WithinDuration(before.Add(30*time.Millisecond), tick, time.Second)
	case <-time.After(2 * time.Second):
		suite.Fail("handler never fired")
	}
	q.Stop()
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}
