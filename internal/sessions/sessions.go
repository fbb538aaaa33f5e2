// Package sessions manages multi-turn conversation sessions on top of the
// Context Store: ownership checks, turn ordering and result recording.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultHistoryTurns is how many prior turns handlers receive as context.
const DefaultHistoryTurns = 10

// Manager opens sessions and records their turns.
type Manager struct {
	store store.SessionStore
}

// NewManager creates a session manager over the given store.
func NewManager(s store.SessionStore) *Manager {
	return &Manager{store: s}
}

// Resolve returns the session a query belongs to. An empty sessionID opens
// a new session for the principal. An existing session must be owned by the
// principal and still active.
func (m *Manager) Resolve(ctx context.Context, sessionID, principal string) (*models.Session, error) {
	if sessionID == "" {
		return m.Open(ctx, principal)
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("sessions.Resolve", "session %s not found", sessionID)
		}
		return nil, err
	}
	if sess.Principal != principal {
		return nil, apperr.PermissionDenied("sessions.Resolve", "session %s belongs to another principal", sessionID)
	}
	if sess.Status == models.SessionClosed {
		return nil, apperr.Validation("sessions.Resolve", "session %s is closed", sessionID)
	}
	return sess, nil
}

// Open creates a new active session.
func (m *Manager) Open(ctx context.Context, principal string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Principal: principal,
		Status:    models.SessionActive,
		Turns:     []models.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	log.Debug().Str("session", sess.ID).Str("principal", principal).Msg("Session opened")
	return sess, nil
}

// Append records q as the next turn of its session.
func (m *Manager) Append(ctx context.Context, q *models.Query) (int, error) {
	seq, err := m.store.AppendQuery(ctx, q.SessionID, q)
	if errors.Is(err, store.ErrSessionClosed) {
		return 0, apperr.Validation("sessions.Append", "session %s is closed", q.SessionID)
	}
	return seq, err
}

// Record attaches the result to its query's turn.
func (m *Manager) Record(ctx context.Context, q *models.Query, r *models.Result) error {
	return m.store.RecordResult(ctx, q.SessionID, q.ID, r)
}

// Close marks the session closed. Only the owner may close it.
func (m *Manager) Close(ctx context.Context, sessionID, principal string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound("sessions.Close", "session %s not found", sessionID)
		}
		return err
	}
	if sess.Principal != principal {
		return apperr.PermissionDenied("sessions.Close", "session %s belongs to another principal", sessionID)
	}
	return m.store.CloseSession(ctx, sessionID, time.Now().UTC())
}

// Get returns a session if the principal owns it.
func (m *Manager) Get(ctx context.Context, sessionID, principal string) (*models.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("sessions.Get", "session %s not found", sessionID)
		}
		return nil, err
	}
	if sess.Principal != principal {
		return nil, apperr.PermissionDenied("sessions.Get", "session %s belongs to another principal", sessionID)
	}
	return sess, nil
}

// History returns up to n completed turns preceding queryID, oldest first.
func History(sess *models.Session, queryID string, n int) []models.Turn {
	var prior []models.Turn
	for _, t := range sess.Turns {
		if t.Query.ID == queryID {
			break
		}
		if t.Result != nil {
			prior = append(prior, t)
		}
	}
	if n > 0 && len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	return prior
}
