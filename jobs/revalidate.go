package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/memberdesk/memberdesk/internal/jobs"
	"github.com/memberdesk/memberdesk/internal/rbac"
)

// Refresher re-validates the session and settles the role state.
type Refresher interface {
	Refresh(ctx context.Context) rbac.RoleState
}

// RevalidateJob keeps the cached role honest between user interactions.
type RevalidateJob struct {
	Refresher Refresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRevalidateJob wires dependencies for the revalidation handler.
func NewRevalidateJob(refresher Refresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevalidateJob {
	return &RevalidateJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSessionRevalidate tasks.
func (j *RevalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("session revalidate: handler not configured")
	}
	var payload RevalidatePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("session revalidate: decode payload: %w", asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskSessionRevalidate)
	logger := j.logger().With(slog.String("reason", payload.Reason))

	st := j.Refresher.Refresh(ctx)
	switch st.Status {
	case rbac.StatusError:
		logger.Warn("session revalidation failed", slog.Any("error", st.Err))
		return tracker.End(fmt.Errorf("session revalidate: %w", st.Err))
	case rbac.StatusInvalid:
		logger.Info("session no longer valid")
	default:
		logger.Debug("session revalidated", slog.String("status", string(st.Status)), slog.String("role", st.Role.String()))
	}
	return tracker.End(nil)
}

func (j *RevalidateJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
