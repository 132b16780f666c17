package queue

import (
	"time"

	"github.com/robfig/cron/v3"
)

// RepeatingTask is the queue's own durable record of one repeating task.
// Rows survive process restarts; a fresh queue instance pointed at the same
// database resumes firing tasks on their stored cadence.
type RepeatingTask struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	JobID     string `gorm:"uniqueIndex;not null" json:"job_id"`
	Name      string `gorm:"index;not null" json:"name"`
	RepeatKey string `gorm:"uniqueIndex;not null" json:"repeat_key"`
	Payload   string `gorm:"type:text" json:"payload"`

	// EveryMs is the fixed period in milliseconds; ignored when CronExpr is set.
	EveryMs  int64  `json:"every_ms"`
	CronExpr string `json:"cron_expr,omitempty"`

	Enabled bool `gorm:"default:true;index" json:"enabled"`

	// Running and LockedAt form the lease: a task is claimed by flipping
	// Running under a guarded UPDATE, so concurrent workers sharing the
	// database cannot double-fire the same tick.
	Running  bool       `gorm:"default:false" json:"running"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `gorm:"index;not null" json:"next_run_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// nextAfter computes the tick following from, using the cron expression when
// one is set and the fixed period otherwise.
func (t *RepeatingTask) nextAfter(from time.Time) (time.Time, error) {
	if t.CronExpr != "" {
		sched, err := cron.ParseStandard(t.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(from), nil
	}
	return from.Add(time.Duration(t.EveryMs) * time.Millisecond), nil
}
