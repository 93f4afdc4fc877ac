package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// SessionRepository defines the interface for procedure session data operations
type SessionRepository interface {
	// Create creates a new session
	Create(ctx context.Context, session *entities.ProcedureSession) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id string) (*entities.ProcedureSession, error)

	// List retrieves sessions with filters, newest first
	List(ctx context.Context, filter SessionFilter) ([]*entities.ProcedureSession, error)

	// Update persists the mutable descriptive fields (title, pointers, counts)
	Update(ctx context.Context, session *entities.ProcedureSession) error

	// TransitionStatus moves the session to status only if its current status is one of from.
	// Returns false when no row matched.
	TransitionStatus(ctx context.Context, id string, from []entities.SessionStatus, to entities.SessionStatus, errorMessage string) (bool, error)

	// AdvanceProgress raises progress to at least value while the session is in status.
	// It never lowers progress. Returns the stored progress.
	AdvanceProgress(ctx context.Context, id string, status entities.SessionStatus, value int) (int, error)
}

// SessionFilter defines filters for listing sessions
type SessionFilter struct {
	ProcedureType string
	Kind          entities.SessionKind
	Status        entities.SessionStatus
	Limit         int
	Offset        int
}
