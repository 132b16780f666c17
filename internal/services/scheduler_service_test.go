package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/0xsequence/sidekick-sub001/internal/database"
	"github.com/0xsequence/sidekick-sub001/internal/models"
	"github.com/0xsequence/sidekick-sub001/internal/queue"
	"github.com/0xsequence/sidekick-sub001/internal/services"
	"github.com/stretchr/testify/suite"
)

const (
	testContract   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testRecipientA = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testRecipientB = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type SchedulerServiceTestSuite struct {
	suite.Suite
	db        *database.Database
	queue     *queue.Queue
	scheduler services.SchedulerService
}

func (suite *SchedulerServiceTestSuite) SetupTest() {
	db, err := database.NewDatabase(":memory:")
	suite.Require().NoError(err)
	suite.db = db
	suite.queue = queue.New(db.DB, queue.Options{})
	suite.scheduler = services.NewSchedulerService(db.DB, suite.queue)
}

func (suite *SchedulerServiceTestSuite) TearDownTest() {
	suite.db.Close()
}

func (suite *SchedulerServiceTestSuite) validParams() services.CreateScheduleParams {
	return services.CreateScheduleParams{
		ChainID:         1,
		ContractAddress: testContract,
		Recipients:      []string{testRecipientA, testRecipientB},
		Amounts:         []string{"100", "200"},
		IntervalMinutes: 10,
	}
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleReturnsNextRun() {
	before := time.Now()
	record, nextRun, err := suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.Require().NoError(err)

	suite.NotEmpty(record.JobID)
	suite.NotEmpty(record.RepeatKey)
	suite.Equal(int64(10), record.IntervalMinutes)
	suite.Len(record.Recipients, 2)
	suite.WithinDuration(before.Add(10*time.Minute), nextRun, 2*time.Second)

	// The queue holds exactly one repeating task for this schedule.
	tasks, err := suite.queue.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(tasks, 1)
	suite.Equal(record.RepeatKey, tasks[0].RepeatKey)
	suite.Equal(services.TaskRewardTransfer, tasks[0].Name)
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleLengthMismatchLeavesNoState() {
	params := suite.validParams()
	params.Amounts = []string{"100"}

	_, _, err := suite.scheduler.CreateSchedule(context.Background(), params)
	var validationErr *services.ValidationError
	suite.ErrorAs(err, &validationErr)

	// No partial state: neither a queue entry nor a store record.
	tasks, err := suite.queue.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Empty(tasks)

	records, err := suite.scheduler.ListSchedules(context.Background())
	suite.Require().NoError(err)
	suite.Empty(records)
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleRejectsNonPositiveInterval() {
	params := suite.validParams()
	params.IntervalMinutes = 0

	_, _, err := suite.scheduler.CreateSchedule(context.Background(), params)
	var validationErr *services.ValidationError
	suite.ErrorAs(err, &validationErr)
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleRejectsInvalidRecipient() {
	params := suite.validParams()
	params.Recipients = []string{testRecipientA, "not-an-address"}

	_, _, err := suite.scheduler.CreateSchedule(context.Background(), params)
	var validationErr *services.ValidationError
	suite.ErrorAs(err, &validationErr)
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleRejectsIntervalAndCronTogether() {
	params := suite.validParams()
	params.CronExpr = "*/5 * * * *"

	_, _, err := suite.scheduler.CreateSchedule(context.Background(), params)
	var validationErr *services.ValidationError
	suite.ErrorAs(err, &validationErr)
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleWithCron() {
	params := suite.validParams()
	params.IntervalMinutes = 0
	params.CronExpr = "*/5 * * * *"

	record, nextRun, err := suite.scheduler.CreateSchedule(context.Background(), params)
	suite.Require().NoError(err)
	suite.Equal("*/5 * * * *", record.CronExpr)
	suite.True(nextRun.After(time.Now()))
}

func (suite *SchedulerServiceTestSuite) TestCreateScheduleRejectsDuplicateKey() {
	_, _, err := suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.Require().NoError(err)

	_, _, err = suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.ErrorIs(err, services.ErrScheduleExists)
}

func (suite *SchedulerServiceTestSuite) TestCancelScheduleTwice() {
	_, _, err := suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.Require().NoError(err)

	suite.Require().NoError(suite.scheduler.CancelSchedule(context.Background(), 1, testContract))

	// The repeating task is gone after the first cancel.
	tasks, err := suite.queue.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Empty(tasks)

	// Second cancel reports not found instead of crashing.
	err = suite.scheduler.CancelSchedule(context.Background(), 1, testContract)
	suite.ErrorIs(err, services.ErrScheduleNotFound)
}

func (suite *SchedulerServiceTestSuite) TestGetSchedule() {
	_, err := suite.scheduler.GetSchedule(context.Background(), 1, testContract)
	suite.ErrorIs(err, services.ErrScheduleNotFound)

	created, _, err := suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.Require().NoError(err)

	record, err := suite.scheduler.GetSchedule(context.Background(), 1, testContract)
	suite.Require().NoError(err)
	suite.Equal(created.JobID, record.JobID)
	suite.Equal([]string{"100", "200"}, record.Amounts)
}

func (suite *SchedulerServiceTestSuite) TestReconcileRemovesOrphanedTask() {
	// Simulate a crash after queue registration but before the store write.
	_, _, err := suite.queue.Schedule(context.Background(), services.TaskRewardTransfer, []byte(`{}`), time.Minute)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.scheduler.Reconcile(context.Background()))

	tasks, err := suite.queue.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Empty(tasks)
}

func (suite *SchedulerServiceTestSuite) TestReconcileRemovesRecordWithoutTask() {
	record := &models.RewardSchedule{
		ChainID:         1,
		ContractAddress: testContract,
		JobID:           "job_x",
		RepeatKey:       "rep_x",
		Recipients:      []string{testRecipientA},
		Amounts:         []string{"1"},
		IntervalMinutes: 5,
	}
	suite.Require().NoError(suite.db.DB.Create(record).Error)

	suite.Require().NoError(suite.scheduler.Reconcile(context.Background()))

	records, err := suite.scheduler.ListSchedules(context.Background())
	suite.Require().NoError(err)
	suite.Empty(records)
}

func (suite *SchedulerServiceTestSuite) TestReconcileKeepsConsistentPairs() {
	_, _, err := suite.scheduler.CreateSchedule(context.Background(), suite.validParams())
	suite.Require().NoError(err)

	suite.Require().NoError(suite.scheduler.Reconcile(context.Background()))

	tasks, err := suite.queue.ListRepeating(context.Background())
	suite.Require().NoError(err)
	suite.Len(tasks, 1)

	records, err := suite.scheduler.ListSchedules(context.Background())
	suite.Require().NoError(err)
	suite.Len(records, 1)
}

func TestSchedulerServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerServiceTestSuite))
}
