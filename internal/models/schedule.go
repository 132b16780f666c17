package models

import (
	"fmt"
	"time"
)

type RewardStatus string

const (
	RewardStatusPending          RewardStatus = "pending"
	RewardStatusSubmitted        RewardStatus = "submitted"
	RewardStatusConfirmed        RewardStatus = "confirmed"
	RewardStatusReverted         RewardStatus = "reverted"
	RewardStatusSubmissionFailed RewardStatus = "submission_failed"
)

// IsTerminal reports whether no further status transition can occur.
func (s RewardStatus) IsTerminal() bool {
	switch s {
	case RewardStatusConfirmed, RewardStatusReverted, RewardStatusSubmissionFailed:
		return true
	}
	return false
}

// ScheduleKey renders the composite (chain, contract) identifier as the
// stable string used for persistence and attempt bookkeeping.
func ScheduleKey(chainID uint64, contractAddress string) string {
	return fmt.Sprintf("rewards:%d:%s", chainID, contractAddress)
}

// RewardSchedule is the persisted record of one active recurring reward
// distribution. At most one schedule exists per (chain, contract) pair.
type RewardSchedule struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ChainID         uint64 `gorm:"not null;uniqueIndex:idx_reward_schedule_key" json:"chain_id"`
	ContractAddress string `gorm:"not null;uniqueIndex:idx_reward_schedule_key" json:"contract_address"`

	// JobID and RepeatKey reference the queue's repeating task; RepeatKey is
	// the handle used to cancel it.
	JobID     string `gorm:"not null" json:"job_id"`
	RepeatKey string `gorm:"index;not null" json:"repeat_job_key"`

	Recipients []string `gorm:"serializer:json;not null" json:"recipients"`
	Amounts    []string `gorm:"serializer:json;not null" json:"amounts"`

	// IntervalMinutes is zero when the schedule runs on a cron expression.
	IntervalMinutes int64  `json:"interval_minutes"`
	CronExpr        string `json:"cron_expr,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the schedule's composite key string.
func (s *RewardSchedule) Key() string {
	return ScheduleKey(s.ChainID, s.ContractAddress)
}

// RewardAttempt records one transfer attempt for one recipient within one
// tick. The (schedule_key, tick_at, recipient) triple is unique so a replayed
// tick can skip work that already reached a terminal state.
type RewardAttempt struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	ScheduleKey string       `gorm:"not null;uniqueIndex:idx_reward_attempt_replay" json:"schedule_key"`
	TickAt      time.Time    `gorm:"not null;uniqueIndex:idx_reward_attempt_replay" json:"tick_at"`
	Recipient   string       `gorm:"not null;uniqueIndex:idx_reward_attempt_replay" json:"recipient"`
	Amount      string       `gorm:"not null" json:"amount"`
	TxHash      string       `gorm:"index" json:"tx_hash,omitempty"`
	Status      RewardStatus `gorm:"default:pending" json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
