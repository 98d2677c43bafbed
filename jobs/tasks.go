package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/societyhub/societyhub/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillsGenerateDue runs every bill schedule due today.
	TaskBillsGenerateDue = "bills:generate_due"
	// TaskLedgerIntegrity replays ledgers and reports drifted balances.
	TaskLedgerIntegrity = "ledger:integrity"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload scopes an integrity run. A zero SocietyID checks
// every society.
type LedgerIntegrityPayload struct {
	SocietyID int64 `json:"society_id,omitempty"`
}

// NewGenerateDueTask creates the scheduled generation task. Runs for a
// period that already has a generation run are skipped by the service, so
// the task is safe to enqueue more than once a day.
func NewGenerateDueTask() *asynq.Task {
	return asynq.NewTask(TaskBillsGenerateDue, nil, asynq.Queue(QueueDefault))
}

// NewLedgerIntegrityTask creates an integrity task for one society, or all
// of them when societyID is zero.
func NewLedgerIntegrityTask(societyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{SocietyID: societyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// TaskByName builds a task with its default payload. It backs manual
// triggers from the CLI.
func TaskByName(name string) (*asynq.Task, bool) {
	switch name {
	case TaskBillsGenerateDue:
		return NewGenerateDueTask(), true
	case TaskLedgerIntegrity:
		task, err := NewLedgerIntegrityTask(0)
		return task, err == nil
	default:
		return nil, false
	}
}
