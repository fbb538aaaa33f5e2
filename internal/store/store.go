// Package store provides the Context Store: persistence for sessions,
// knowledge documents, actions, approvals and collaborations.
//
// Two implementations ship: MemoryStore (maps with an optional JSON
// snapshot, for local dev and tests) and SQLiteStore (modernc.org/sqlite).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// Store is the primary storage interface. All components depend on this
// interface, so the in-memory and SQLite implementations are interchangeable.
type Store interface {
	SessionStore
	KnowledgeStore
	ActionStore
	CollaborationStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore keeps ordered query/result history per session.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, principal string, limit int) ([]models.Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) error

	// AppendQuery adds a turn for q and returns its sequence number.
	// Sequence numbers reflect submission order. Fails with ErrSessionClosed
	// when the session is closed.
	AppendQuery(ctx context.Context, sessionID string, q *models.Query) (int, error)

	// RecordResult attaches r to the turn of queryID. A second call for the
	// same query returns *ErrStale.
	RecordResult(ctx context.Context, sessionID, queryID string, r *models.Result) error

	// DeleteSessions removes sessions with their turns and reports how many
	// existed. Unknown ids are ignored.
	DeleteSessions(ctx context.Context, ids []string) (int, error)
}

// ── Knowledge Store ─────────────────────────────────────────

type KnowledgeStore interface {
	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error)

	UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	GetDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, knowledgeBaseID string) ([]models.KnowledgeDocument, error)

	// CommitChunks stores doc and replaces its chunk set in one step, and
	// returns the chunks it replaced. Readers see either the old set or
	// the new one, never a mix.
	CommitChunks(ctx context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) ([]models.KnowledgeChunk, error)
	ListChunks(ctx context.Context, documentID string) ([]models.KnowledgeChunk, error)

	// GetChunks returns the committed chunks for ids, keyed by id.
	// Unknown ids are omitted.
	GetChunks(ctx context.Context, ids []string) (map[string]models.KnowledgeChunk, error)
}

// ── Action Store ────────────────────────────────────────────

type ActionStore interface {
	// CreateAction persists a new action with its approval.
	CreateAction(ctx context.Context, action *models.Action, approval *models.Approval) error
	GetAction(ctx context.Context, id string) (*models.Action, error)
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	GetApprovalForAction(ctx context.Context, actionID string) (*models.Approval, error)
	ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.Approval, error)

	// SwapAction stores action (and approval when non-nil) only if the
	// stored action is still in state expect. Versions are bumped on
	// success. Returns *ErrStale when another writer got there first.
	SwapAction(ctx context.Context, expect models.ActionStatus, action *models.Action, approval *models.Approval) error
}

// ── Collaboration Store ─────────────────────────────────────

type CollaborationStore interface {
	SaveCollaboration(ctx context.Context, c *models.Collaboration) error
	GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error)
	ListCollaborations(ctx context.Context, queryID string) ([]models.Collaboration, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrStale is returned when a conditional write loses to a concurrent one.
type ErrStale struct {
	Entity   string
	Key      string
	Expected string
	Actual   string
}

func (e *ErrStale) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.Key, e.Actual, e.Expected)
}

// ErrSessionClosed is returned when appending to a closed session.
var ErrSessionClosed = errors.New("session is closed")

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// IsStale reports whether err is an *ErrStale.
func IsStale(err error) bool {
	var st *ErrStale
	return errors.As(err, &st)
}
