package services

import (
	"context"
	"fmt"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// ErrSessionNotProcessing is returned for progress reports that arrive after
// the session left processing. Callers discard the result.
var ErrSessionNotProcessing = apperrors.NewConflictError("session is not processing")

// SessionLifecycle owns session status and progress. Status changes are
// compare-and-set against the legal predecessors of the target state; progress
// only ever moves up.
type SessionLifecycle struct {
	sessions repositories.SessionRepository
	events   providers.EventBus
}

// NewSessionLifecycle creates a new session lifecycle
func NewSessionLifecycle(sessions repositories.SessionRepository, events providers.EventBus) *SessionLifecycle {
	return &SessionLifecycle{sessions: sessions, events: events}
}

// StartProcessing moves a recorded session from pending to processing.
func (l *SessionLifecycle) StartProcessing(ctx context.Context, id string) (bool, error) {
	return l.transition(ctx, id, entities.SessionStatusProcessing, "")
}

// Activate moves a live session to active, from pending or idle.
func (l *SessionLifecycle) Activate(ctx context.Context, id string) (bool, error) {
	return l.transition(ctx, id, entities.SessionStatusActive, "")
}

// MarkIdle moves an active live session to idle.
func (l *SessionLifecycle) MarkIdle(ctx context.Context, id string) (bool, error) {
	return l.transition(ctx, id, entities.SessionStatusIdle, "")
}

// Complete finishes a session. Recorded sessions complete from processing,
// live sessions from active or idle.
func (l *SessionLifecycle) Complete(ctx context.Context, id string) (bool, error) {
	return l.transition(ctx, id, entities.SessionStatusCompleted, "")
}

// Fail moves a session to failed. Progress stays at its last value.
func (l *SessionLifecycle) Fail(ctx context.Context, id, reason string) (bool, error) {
	return l.transition(ctx, id, entities.SessionStatusFailed, reason)
}

// Abort fails a session on operator request.
func (l *SessionLifecycle) Abort(ctx context.Context, id string) (bool, error) {
	return l.Fail(ctx, id, "aborted by operator")
}

// ReportStageProgress maps a stage-local percentage into the stage's global
// window and raises the session's progress to it. Returns the stored progress,
// which never decreases. Reports for sessions that are no longer processing
// return ErrSessionNotProcessing.
func (l *SessionLifecycle) ReportStageProgress(ctx context.Context, id string, stage entities.Stage, percent int) (int, error) {
	global, err := entities.GlobalProgress(stage, percent)
	if err != nil {
		return 0, apperrors.NewValidationError(err.Error())
	}

	progress, err := l.sessions.AdvanceProgress(ctx, id, entities.SessionStatusProcessing, global)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			return 0, ErrSessionNotProcessing
		}
		return 0, err
	}

	event := entities.NewSessionEvent(id, entities.SessionEventProgress, nil)
	event.Status = entities.SessionStatusProcessing
	event.Progress = progress
	event.Stage = stage
	l.publish(ctx, event)

	return progress, nil
}

// IsProcessing reports whether the session is still processing.
func (l *SessionLifecycle) IsProcessing(ctx context.Context, id string) (bool, error) {
	session, err := l.sessions.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return session.Status == entities.SessionStatusProcessing, nil
}

func (l *SessionLifecycle) transition(ctx context.Context, id string, to entities.SessionStatus, reason string) (bool, error) {
	ok, err := l.sessions.TransitionStatus(ctx, id, to.Predecessors(), to, reason)
	if err != nil {
		return false, fmt.Errorf("failed to move session %s to %s: %w", id, to, err)
	}
	if !ok {
		observability.LoggerFromContext(ctx).Debug().
			Str("session_id", id).
			Str("to", string(to)).
			Msg("session transition not applied")
		return false, nil
	}

	event := entities.NewSessionEvent(id, entities.SessionEventStatus, nil)
	event.Status = to
	if to == entities.SessionStatusCompleted {
		event.Progress = 100
	}
	if reason != "" {
		event.Payload = map[string]interface{}{"error": reason}
	}
	l.publish(ctx, event)
	return true, nil
}

func (l *SessionLifecycle) publish(ctx context.Context, event *entities.SessionEvent) {
	if l.events == nil {
		return
	}
	publish := func(channel string) {
		if err := l.events.Publish(ctx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Str("session_id", event.SessionID).
				Str("channel", channel).
				Msg("failed to publish session event")
		}
	}
	publish(providers.GetSessionChannel(event.SessionID))
	publish(providers.EventChannelSessionUpdates)
}
