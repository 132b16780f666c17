package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0xsequence/sidekick-sub001/internal/models"
	"github.com/0xsequence/sidekick-sub001/internal/queue"
	"github.com/0xsequence/sidekick-sub001/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SchedulerService is the facade over the job store and the recurring job
// queue. It keeps the two consistent: the queue entry is registered first,
// and a failed store write compensates by cancelling the registration.
type SchedulerService interface {
	CreateSchedule(ctx context.Context, params CreateScheduleParams) (*models.RewardSchedule, time.Time, error)
	GetSchedule(ctx context.Context, chainID uint64, contractAddress string) (*models.RewardSchedule, error)
	ListSchedules(ctx context.Context) ([]models.RewardSchedule, error)
	CancelSchedule(ctx context.Context, chainID uint64, contractAddress string) error
	Reconcile(ctx context.Context) error
}

type CreateScheduleParams struct {
	ChainID         uint64   `validate:"required"`
	ContractAddress string   `validate:"required,eth_addr"`
	Recipients      []string `validate:"required,min=1,dive,required,eth_addr"`
	Amounts         []string `validate:"required,min=1,dive,required"`

	// IntervalMinutes and CronExpr are mutually exclusive; exactly one must
	// be set.
	IntervalMinutes int64
	CronExpr        string
}

type schedulerService struct {
	db        *gorm.DB
	queue     *queue.Queue
	validator *validator.Validate
}

func NewSchedulerService(db *gorm.DB, q *queue.Queue) SchedulerService {
	return &schedulerService{
		db:        db,
		queue:     q,
		validator: validator.New(),
	}
}

func (s *schedulerService) validateParams(params CreateScheduleParams) error {
	if len(params.Recipients) != len(params.Amounts) {
		return NewValidationError("recipients and amounts length mismatch: %d != %d", len(params.Recipients), len(params.Amounts))
	}
	if err := s.validator.Struct(params); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	for _, amount := range params.Amounts {
		if _, err := utils.ParseAmount(amount); err != nil {
			return &ValidationError{Message: err.Error()}
		}
	}

	switch {
	case params.CronExpr != "" && params.IntervalMinutes > 0:
		return NewValidationError("timeframe and cron are mutually exclusive")
	case params.CronExpr != "":
		if _, err := cron.ParseStandard(params.CronExpr); err != nil {
			return NewValidationError("invalid cron expression: %v", err)
		}
	case params.IntervalMinutes <= 0:
		return NewValidationError("timeframe must be a positive number of minutes")
	}
	return nil
}

func (s *schedulerService) CreateSchedule(ctx context.Context, params CreateScheduleParams) (*models.RewardSchedule, time.Time, error) {
	if err := s.validateParams(params); err != nil {
		return nil, time.Time{}, err
	}

	var existing models.RewardSchedule
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND contract_address = ?", params.ChainID, params.ContractAddress).
		First(&existing).Error
	if err == nil {
		return nil, time.Time{}, ErrScheduleExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, err
	}

	payload, err := json.Marshal(TransferPayload{
		ChainID:         params.ChainID,
		ContractAddress: params.ContractAddress,
		Recipients:      params.Recipients,
		Amounts:         params.Amounts,
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	// Queue registration first, store write second. The queue returns the
	// repeat key directly from the creation call.
	now := time.Now()
	var (
		jobID     string
		repeatKey string
		nextRun   time.Time
	)
	if params.CronExpr != "" {
		jobID, repeatKey, err = s.queue.ScheduleCron(ctx, TaskRewardTransfer, payload, params.CronExpr)
		if err == nil {
			sched, _ := cron.ParseStandard(params.CronExpr)
			nextRun = sched.Next(now)
		}
	} else {
		interval := time.Duration(params.IntervalMinutes) * time.Minute
		jobID, repeatKey, err = s.queue.Schedule(ctx, TaskRewardTransfer, payload, interval)
		nextRun = now.Add(interval)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to register repeating task: %w", err)
	}

	record := &models.RewardSchedule{
		ChainID:         params.ChainID,
		ContractAddress: params.ContractAddress,
		JobID:           jobID,
		RepeatKey:       repeatKey,
		Recipients:      params.Recipients,
		Amounts:         params.Amounts,
		IntervalMinutes: params.IntervalMinutes,
		CronExpr:        params.CronExpr,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		// Compensate so the queue is not left with an orphaned task.
		if cerr := s.queue.CancelRepeating(ctx, repeatKey); cerr != nil && !errors.Is(cerr, queue.ErrTaskNotFound) {
			log.Error().Err(cerr).Str("repeat_key", repeatKey).
				Msg("scheduler: failed to cancel repeating task after store write failure")
		}
		return nil, time.Time{}, fmt.Errorf("failed to persist schedule: %w", err)
	}

	log.Info().
		Str("schedule", record.Key()).
		Str("job_id", jobID).
		Time("next_run", nextRun).
		Msg("scheduler: schedule created")

	return record, nextRun, nil
}

func (s *schedulerService) GetSchedule(ctx context.Context, chainID uint64, contractAddress string) (*models.RewardSchedule, error) {
	var record models.RewardSchedule
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND contract_address = ?", chainID, contractAddress).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *schedulerService) ListSchedules(ctx context.Context) ([]models.RewardSchedule, error) {
	var records []models.RewardSchedule
	err := s.db.WithContext(ctx).Find(&records).Error
	return records, err
}

// CancelSchedule removes the repeating task and deletes the record. Safe to
// call twice: the second call reports ErrScheduleNotFound. A tick already in
// flight runs to completion.
func (s *schedulerService) CancelSchedule(ctx context.Context, chainID uint64, contractAddress string) error {
	record, err := s.GetSchedule(ctx, chainID, contractAddress)
	if err != nil {
		return err
	}

	if err := s.queue.CancelRepeating(ctx, record.RepeatKey); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
		return fmt.Errorf("failed to cancel repeating task: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&models.RewardSchedule{}, record.ID).Error; err != nil {
		return fmt.Errorf("failed to delete schedule record: %w", err)
	}

	log.Info().Str("schedule", record.Key()).Msg("scheduler: schedule cancelled")
	return nil
}

// Reconcile removes orphaned state left by a crash between queue
// registration and store write (or vice versa): repeating reward tasks with
// no schedule record are cancelled, and records whose repeat key the queue
// no longer knows are deleted. Run at startup.
func (s *schedulerService) Reconcile(ctx context.Context) error {
	tasks, err := s.queue.ListRepeating(ctx)
	if err != nil {
		return fmt.Errorf("failed to list repeating tasks: %w", err)
	}
	records, err := s.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}

	recordKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		recordKeys[r.RepeatKey] = struct{}{}
	}
	taskKeys := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.Name == TaskRewardTransfer {
			taskKeys[t.RepeatKey] = struct{}{}
		}
	}

	for _, t := range tasks {
		if t.Name != TaskRewardTransfer {
			continue
		}
		if _, ok := recordKeys[t.RepeatKey]; ok {
			continue
		}
		log.Warn().Str("repeat_key", t.RepeatKey).Msg("scheduler: cancelling orphaned repeating task")
		if err := s.queue.CancelRepeating(ctx, t.RepeatKey); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
			return err
		}
	}

	for _, r := range records {
		if _, ok := taskKeys[r.RepeatKey]; ok {
			continue
		}
		log.Warn().Str("schedule", r.Key()).Msg("scheduler: deleting schedule record with no repeating task")
		if err := s.db.WithContext(ctx).Delete(&models.RewardSchedule{}, r.ID).Error; err != nil {
			return err
		}
	}
	return nil
}
