// Package jobs contains the background worker and its task
// definitions. Tasks run on Asynq with Redis as the broker.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSweepDanglingRefs prunes assignment rows whose target role,
	// permission, or group has been deleted. Resolution tolerates the
	// dangling ids; the sweep keeps the tables from growing stale.
	TaskSweepDanglingRefs = "authz:sweep"
	// TaskAuditRetention deletes audit log entries older than the
	// configured retention window.
	TaskAuditRetention = "audit:retention"
)

// AuditRetentionPayload carries the retention window in hours.
type AuditRetentionPayload struct {
	RetentionHours int `json:"retentionHours"`
}

// NewSweepTask constructs the dangling-reference sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSweepDanglingRefs, nil)
}

// NewAuditRetentionTask constructs an audit retention task.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
