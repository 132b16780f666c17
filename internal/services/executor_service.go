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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// TaskRewardTransfer is the queue task name all reward schedules run under.
const TaskRewardTransfer = "reward-transfer"

// TransferPayload is the per-tick payload stored with the repeating task.
type TransferPayload struct {
	ChainID         uint64   `json:"chainId"`
	ContractAddress string   `json:"contractAddress"`
	Recipients      []string `json:"recipients"`
	Amounts         []string `json:"amounts"`
}

// ExecutorService runs one tick of a reward schedule: one independent
// transfer per (recipient, amount) pair. A revert or submission failure for
// one recipient never aborts the others; only an unreachable chain fails the
// whole tick, and the next tick is a fresh attempt.
type ExecutorService interface {
	Handle(ctx context.Context, task queue.Task) error
}

type ExecutorOptions struct {
	// RetryPolicy is config.RetryPolicyAll or config.RetryPolicyFailed.
	// Under "failed", recipients with a confirmed attempt for this schedule,
	// or a submitted one still awaiting its receipt, are skipped.
	RetryPolicy string
	// ConfirmationTimeout bounds the receipt wait per transfer.
	ConfirmationTimeout time.Duration
}

type executorService struct {
	db     *gorm.DB
	signer SignerService
	txLog  TransactionLogService
	opts   ExecutorOptions
}

func NewExecutorService(db *gorm.DB, signer SignerService, txLog TransactionLogService, opts ExecutorOptions) ExecutorService {
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 2 * time.Minute
	}
	return &executorService{db: db, signer: signer, txLog: txLog, opts: opts}
}

func (s *executorService) Handle(ctx context.Context, task queue.Task) error {
	var payload TransferPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("malformed transfer payload: %w", err)
	}
	if len(payload.Recipients) != len(payload.Amounts) {
		return fmt.Errorf("payload has %d recipients but %d amounts", len(payload.Recipients), len(payload.Amounts))
	}

	scheduleKey := models.ScheduleKey(payload.ChainID, payload.ContractAddress)

	// Connectivity gate: no signer or unreachable RPC fails the tick fast.
	signer, err := s.signer.GetSigner(ctx, payload.ChainID)
	if err != nil {
		return fmt.Errorf("tick %s: %w", scheduleKey, err)
	}
	if _, err := signer.BlockNumber(ctx); err != nil {
		return fmt.Errorf("tick %s: chain unreachable: %w", scheduleKey, err)
	}

	if err := s.resolveOutstanding(ctx, signer, scheduleKey); err != nil {
		return fmt.Errorf("tick %s: %w", scheduleKey, err)
	}

	skip, err := s.skippableRecipients(scheduleKey)
	if err != nil {
		return fmt.Errorf("tick %s: %w", scheduleKey, err)
	}

	contract := common.HexToAddress(payload.ContractAddress)
	for i, recipient := range payload.Recipients {
		if _, ok := skip[recipient]; ok {
			log.Debug().
				Str("schedule", scheduleKey).
				Str("recipient", recipient).
				Msg("executor: recipient already settled, skipping")
			continue
		}
		s.transferOne(ctx, signer, scheduleKey, task.TickAt, payload, contract, recipient, payload.Amounts[i])
	}
	return nil
}

// skippableRecipients returns the recipients to leave out of this tick under
// the "failed" retry policy: those already confirmed, plus those with a
// broadcast still awaiting its receipt. Under "all" every tick transfers the
// full list.
func (s *executorService) skippableRecipients(scheduleKey string) (map[string]struct{}, error) {
	skip := make(map[string]struct{})
	if s.opts.RetryPolicy != "failed" {
		return skip, nil
	}

	var paid []string
	err := s.db.Model(&models.RewardAttempt{}).
		Where("schedule_key = ? AND status IN ?", scheduleKey,
			[]models.RewardStatus{models.RewardStatusConfirmed, models.RewardStatusSubmitted}).
		Distinct().
		Pluck("recipient", &paid).Error
	if err != nil {
		return nil, err
	}
	for _, r := range paid {
		skip[r] = struct{}{}
	}
	return skip, nil
}

// resolveOutstanding finalizes attempts an earlier run left in the submitted
// state, using the stored transaction hash. An attempt whose receipt still
// cannot be fetched stays submitted; it is never resubmitted.
func (s *executorService) resolveOutstanding(ctx context.Context, signer Signer, scheduleKey string) error {
	var stuck []models.RewardAttempt
	err := s.db.
		Where("schedule_key = ? AND status = ? AND tx_hash <> ''", scheduleKey, models.RewardStatusSubmitted).
		Find(&stuck).Error
	if err != nil {
		return err
	}
	for i := range stuck {
		s.resolveSubmitted(ctx, signer, scheduleKey, &stuck[i])
	}
	return nil
}

// resolveSubmitted settles one submitted attempt from its stored hash.
func (s *executorService) resolveSubmitted(ctx context.Context, signer Signer, scheduleKey string, attempt *models.RewardAttempt) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmationTimeout)
	confirmed, err := signer.WaitMined(waitCtx, attempt.TxHash)
	cancel()
	if err != nil {
		log.Warn().Err(err).
			Str("schedule", scheduleKey).
			Str("recipient", attempt.Recipient).
			Str("tx_hash", attempt.TxHash).
			Msg("executor: submitted transfer still unresolved")
		s.recordWaitError(attempt, err)
		return
	}

	status := models.RewardStatusConfirmed
	if !confirmed {
		status = models.RewardStatusReverted
		log.Warn().
			Str("schedule", scheduleKey).
			Str("recipient", attempt.Recipient).
			Str("tx_hash", attempt.TxHash).
			Msg("executor: transfer reverted")
	}
	s.finishAttempt(attempt, status, attempt.TxHash, nil)
}

// transferOne drives one recipient through the attempt state machine:
// Pending -> Submitted -> {Confirmed | Reverted}, or Pending ->
// SubmissionFailed. Failures are recorded, never propagated.
func (s *executorService) transferOne(ctx context.Context, signer Signer, scheduleKey string, tickAt time.Time, payload TransferPayload, contract common.Address, recipient, amountStr string) {
	attempt, created, err := s.ensureAttempt(scheduleKey, tickAt, recipient, amountStr)
	if err != nil {
		log.Error().Err(err).Str("schedule", scheduleKey).Str("recipient", recipient).
			Msg("executor: failed to record attempt")
		return
	}
	// Replay of a partially completed tick: terminal attempts stay as they
	// are, a resubmission would double-pay.
	if !created {
		if attempt.Status.IsTerminal() {
			return
		}
		// A prior run broadcast this transfer but crashed before recording
		// the outcome. Resolve the stored hash instead of sending again.
		if attempt.Status == models.RewardStatusSubmitted && attempt.TxHash != "" {
			s.resolveSubmitted(ctx, signer, scheduleKey, attempt)
			return
		}
	}

	amount, err := utils.ParseAmount(amountStr)
	if err != nil {
		s.finishAttempt(attempt, models.RewardStatusSubmissionFailed, "", err)
		s.auditTransfer(payload, "", "", recipient, amountStr, err)
		return
	}

	data, err := utils.ERC20TransferData(common.HexToAddress(recipient), amount)
	if err != nil {
		s.finishAttempt(attempt, models.RewardStatusSubmissionFailed, "", err)
		s.auditTransfer(payload, "", "", recipient, amountStr, err)
		return
	}
	calldata := hexutil.Encode(data)

	txHash, err := signer.SendTransaction(ctx, contract, data)
	if err != nil {
		s.finishAttempt(attempt, models.RewardStatusSubmissionFailed, "", err)
		s.auditTransfer(payload, "", calldata, recipient, amountStr, err)
		return
	}
	s.markSubmitted(attempt, txHash)
	log.Info().
		Str("schedule", scheduleKey).
		Str("recipient", recipient).
		Str("from", signer.Address().Hex()).
		Str("tx_hash", txHash).
		Msg("executor: transfer submitted")

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmationTimeout)
	confirmed, err := signer.WaitMined(waitCtx, txHash)
	cancel()
	if err != nil {
		// The transaction is on the wire; its outcome is unknown, not
		// failed. The attempt stays submitted and a later pass settles it
		// from the stored hash.
		s.recordWaitError(attempt, err)
		s.auditTransfer(payload, txHash, calldata, recipient, amountStr, err)
		return
	}

	status := models.RewardStatusConfirmed
	if !confirmed {
		status = models.RewardStatusReverted
		log.Warn().
			Str("schedule", scheduleKey).
			Str("recipient", recipient).
			Str("tx_hash", txHash).
			Msg("executor: transfer reverted")
	}
	s.finishAttempt(attempt, status, txHash, nil)
	s.auditTransfer(payload, txHash, calldata, recipient, amountStr, nil)
}

// ensureAttempt loads or creates the attempt row for this (schedule, tick,
// recipient) triple. created is false when the row already existed.
func (s *executorService) ensureAttempt(scheduleKey string, tickAt time.Time, recipient, amount string) (*models.RewardAttempt, bool, error) {
	var attempt models.RewardAttempt
	err := s.db.
		Where("schedule_key = ? AND tick_at = ? AND recipient = ?", scheduleKey, tickAt, recipient).
		First(&attempt).Error
	if err == nil {
		return &attempt, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	attempt = models.RewardAttempt{
		ScheduleKey: scheduleKey,
		TickAt:      tickAt,
		Recipient:   recipient,
		Amount:      amount,
		Status:      models.RewardStatusPending,
	}
	if err := s.db.Create(&attempt).Error; err != nil {
		return nil, false, err
	}
	return &attempt, true, nil
}

func (s *executorService) markSubmitted(attempt *models.RewardAttempt, txHash string) {
	attempt.Status = models.RewardStatusSubmitted
	attempt.TxHash = txHash
	if err := s.db.Model(&models.RewardAttempt{}).Where("id = ?", attempt.ID).
		Updates(map[string]interface{}{"status": models.RewardStatusSubmitted, "tx_hash": txHash}).Error; err != nil {
		log.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("executor: failed to mark attempt submitted")
	}
}

// recordWaitError stores the receipt-wait failure without leaving the
// submitted state.
func (s *executorService) recordWaitError(attempt *models.RewardAttempt, cause error) {
	if err := s.db.Model(&models.RewardAttempt{}).Where("id = ?", attempt.ID).
		Update("error", cause.Error()).Error; err != nil {
		log.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("executor: failed to record wait error")
	}
}

func (s *executorService) finishAttempt(attempt *models.RewardAttempt, status models.RewardStatus, txHash string, cause error) {
	updates := map[string]interface{}{"status": status}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}
	if err := s.db.Model(&models.RewardAttempt{}).Where("id = ?", attempt.ID).Updates(updates).Error; err != nil {
		log.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("executor: failed to finalize attempt")
	}
	attempt.Status = status
}

// auditTransfer writes the transaction-log record for one attempt.
// Fire-and-forget: failures are logged, never fatal to the tick.
func (s *executorService) auditTransfer(payload TransferPayload, txHash, calldata, recipient, amount string, cause error) {
	args := models.JSON{
		"to":     recipient,
		"amount": amount,
	}
	if cause != nil {
		args["error"] = cause.Error()
	}
	err := s.txLog.CreateTransaction(CreateTransactionArgs{
		ChainID:         payload.ChainID,
		ContractAddress: payload.ContractAddress,
		Abi:             utils.ERC20TransferABI,
		Data:            calldata,
		TxHash:          txHash,
		IsDeployTx:      false,
		Args:            args,
		FunctionName:    "transfer",
	})
	if err != nil {
		log.Error().Err(err).
			Uint64("chain_id", payload.ChainID).
			Str("recipient", recipient).
			Msg("executor: failed to write transaction log")
	}
}
