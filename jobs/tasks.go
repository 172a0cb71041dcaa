package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionRevalidate re-checks the session with the identity provider
	// and re-resolves its role.
	TaskSessionRevalidate = "session:revalidate"
)

// RevalidatePayload describes why a revalidation was requested.
type RevalidatePayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewRevalidateTask constructs an Asynq task. A revalidation is never
// retried by the queue; the next scheduled run supersedes it.
func NewRevalidateTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(RevalidatePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionRevalidate, data,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}
