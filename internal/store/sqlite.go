package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore implements Store on a single SQLite file. Nested fields are
// stored as JSON bodies next to the columns that are filtered on.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One connection serializes writers, which keeps SwapAction's
	// read-compare-write inside a transaction race-free.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			principal  TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at  TEXT
		);

		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT    NOT NULL REFERENCES sessions(id),
			seq        INTEGER NOT NULL,
			query_id   TEXT    NOT NULL UNIQUE,
			query      TEXT    NOT NULL,
			result     TEXT,
			PRIMARY KEY (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS knowledge_bases (
			id   TEXT PRIMARY KEY,
			body TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
			id      TEXT PRIMARY KEY,
			kb_id   TEXT NOT NULL,
			body    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(kb_id);

		CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT PRIMARY KEY,
			document_id TEXT    NOT NULL,
			position    INTEGER NOT NULL,
			body        TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

		CREATE TABLE IF NOT EXISTS actions (
			id      TEXT    PRIMARY KEY,
			status  TEXT    NOT NULL,
			version INTEGER NOT NULL DEFAULT 0,
			body    TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS approvals (
			id         TEXT    PRIMARY KEY,
			action_id  TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			version    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT    NOT NULL,
			body       TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_action ON approvals(action_id);
		CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);

		CREATE TABLE IF NOT EXISTS collaborations (
			id         TEXT PRIMARY KEY,
			query_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			body       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_collaborations_query ON collaborations(query_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ── helpers ─────────────────────────────────────────────────

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

// ── Session Store ───────────────────────────────────────────

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	status := session.Status
	if status == "" {
		status = models.SessionActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Principal, string(status), ts(session.CreatedAt), ts(session.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		sess             models.Session
		status, created  string
		updated          string
		closed           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, principal, status, created_at, updated_at, closed_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Principal, &status, &created, &updated, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	sess.CreatedAt = parseTS(created)
	sess.UpdatedAt = parseTS(updated)
	if closed.Valid {
		t := parseTS(closed.String)
		sess.ClosedAt = &t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, query, result FROM turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	sess.Turns = []models.Turn{}
	for rows.Next() {
		var (
			turn      models.Turn
			queryJSON string
			resJSON   sql.NullString
		)
		if err := rows.Scan(&turn.Seq, &queryJSON, &resJSON); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(queryJSON), &turn.Query); err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		if resJSON.Valid {
			var r models.Result
			if err := json.Unmarshal([]byte(resJSON.String), &r); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
			turn.Result = &r
		}
		sess.Turns = append(sess.Turns, turn)
	}
	return &sess, rows.Err()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, principal string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE (? = '' OR principal = ?) ORDER BY created_at DESC LIMIT ?`,
		principal, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, nil
}

func (s *SQLiteStore) CloseSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, closed_at = COALESCE(closed_at, ?), updated_at = ? WHERE id = ?`,
		string(models.SessionClosed), ts(at), ts(at), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	return nil
}

func (s *SQLiteStore) DeleteSessions(ctx context.Context, ids []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := 0
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete turns: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("delete session: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AppendQuery(ctx context.Context, sessionID string, q *models.Query) (int, error) {
	body, err := encode(q)
	if err != nil {
		return 0, fmt.Errorf("encode query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ErrNotFound{Entity: "session", Key: sessionID}
	}
	if err != nil {
		return 0, err
	}
	if models.SessionStatus(status) == models.SessionClosed {
		return 0, ErrSessionClosed
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, query_id, query) VALUES (?, ?, ?, ?)`,
		sessionID, seq, q.ID, body); err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, ts(time.Now()), sessionID); err != nil {
		return 0, err
	}
	return seq, tx.Commit()
}

func (s *SQLiteStore) RecordResult(ctx context.Context, sessionID, queryID string, r *models.Result) error {
	body, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET result = ? WHERE session_id = ? AND query_id = ? AND result IS NULL`,
		body, sessionID, queryID)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ? AND query_id = ?`, sessionID, queryID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &ErrNotFound{Entity: "query", Key: queryID}
	}
	return &ErrStale{Entity: "result", Key: queryID, Expected: "unrecorded", Actual: "recorded"}
}

// ── Knowledge Store ─────────────────────────────────────────

func (s *SQLiteStore) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	body, err := encode(kb)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, body) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body`, kb.ID, body)
	return err
}

func (s *SQLiteStore) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM knowledge_bases WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledge_base", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var kb models.KnowledgeBase
	if err := json.Unmarshal([]byte(body), &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

func (s *SQLiteStore) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	return queryBodies[models.KnowledgeBase](ctx, s.db, `SELECT body FROM knowledge_bases ORDER BY id`)
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	return upsertDocument(ctx, s.db, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func upsertDocument(ctx context.Context, db execer, doc *models.KnowledgeDocument) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO documents (id, kb_id, body) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kb_id = excluded.kb_id, body = excluded.body`,
		doc.ID, doc.KnowledgeBaseID, body)
	return err
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "document", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var d models.KnowledgeDocument
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, knowledgeBaseID string) ([]models.KnowledgeDocument, error) {
	return queryBodies[models.KnowledgeDocument](ctx, s.db,
		`SELECT body FROM documents WHERE (? = '' OR kb_id = ?) ORDER BY id`, knowledgeBaseID, knowledgeBaseID)
}

func (s *SQLiteStore) CommitChunks(ctx context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) ([]models.KnowledgeChunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	old, err := queryBodies[models.KnowledgeChunk](ctx, tx,
		`SELECT body FROM chunks WHERE document_id = ? ORDER BY position`, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load previous chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return nil, fmt.Errorf("delete previous chunks: %w", err)
	}
	for _, c := range chunks {
		body, err := encode(c)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, position, body) VALUES (?, ?, ?, ?)`,
			c.ID, doc.ID, c.Position, body); err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := upsertDocument(ctx, tx, doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return old, nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]models.KnowledgeChunk, error) {
	return queryBodies[models.KnowledgeChunk](ctx, s.db,
		`SELECT body FROM chunks WHERE document_id = ? ORDER BY position`, documentID)
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) (map[string]models.KnowledgeChunk, error) {
	result := make(map[string]models.KnowledgeChunk, len(ids))
	for _, id := range ids {
		var body string
		err := s.db.QueryRowContext(ctx, `SELECT body FROM chunks WHERE id = ?`, id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var c models.KnowledgeChunk
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, err
		}
		result[id] = c
	}
	return result, nil
}

// ── Action Store ────────────────────────────────────────────

func (s *SQLiteStore) CreateAction(ctx context.Context, action *models.Action, approval *models.Approval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	body, err := encode(action)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO actions (id, status, version, body) VALUES (?, ?, ?, ?)`,
		action.ID, string(action.Status), action.Version, body); err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	if approval != nil {
		abody, err := encode(approval)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO approvals (id, action_id, status, version, created_at, body) VALUES (?, ?, ?, ?, ?, ?)`,
			approval.ID, approval.ActionID, string(approval.Status), approval.Version, ts(approval.CreatedAt), abody); err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM actions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "action", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var a models.Action
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	return s.getApproval(ctx, `SELECT body FROM approvals WHERE id = ?`, id, id)
}

func (s *SQLiteStore) GetApprovalForAction(ctx context.Context, actionID string) (*models.Approval, error) {
	return s.getApproval(ctx, `SELECT body FROM approvals WHERE action_id = ? LIMIT 1`, actionID, "action:"+actionID)
}

func (s *SQLiteStore) getApproval(ctx context.Context, query, arg, key string) (*models.Approval, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "approval", Key: key}
	}
	if err != nil {
		return nil, err
	}
	var ap models.Approval
	if err := json.Unmarshal([]byte(body), &ap); err != nil {
		return nil, err
	}
	return &ap, nil
}

func (s *SQLiteStore) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryBodies[models.Approval](ctx, s.db,
		`SELECT body FROM approvals WHERE (? = '' OR status = ?) ORDER BY created_at LIMIT ?`,
		string(status), string(status), limit)
}

func (s *SQLiteStore) SwapAction(ctx context.Context, expect models.ActionStatus, action *models.Action, approval *models.Approval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		status  string
		version int64
	)
	err = tx.QueryRowContext(ctx, `SELECT status, version FROM actions WHERE id = ?`, action.ID).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return &ErrNotFound{Entity: "action", Key: action.ID}
	}
	if err != nil {
		return err
	}
	if models.ActionStatus(status) != expect {
		return &ErrStale{Entity: "action", Key: action.ID, Expected: string(expect), Actual: status}
	}

	next := *action
	next.Version = version + 1
	body, err := encode(&next)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE actions SET status = ?, version = ?, body = ? WHERE id = ? AND status = ?`,
		string(next.Status), next.Version, body, action.ID, string(expect))
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &ErrStale{Entity: "action", Key: action.ID, Expected: string(expect), Actual: "changed"}
	}

	var nextApproval models.Approval
	if approval != nil {
		var aversion int64
		if err := tx.QueryRowContext(ctx, `SELECT version FROM approvals WHERE id = ?`, approval.ID).Scan(&aversion); err != nil {
			return fmt.Errorf("load approval: %w", err)
		}
		nextApproval = *approval
		nextApproval.Version = aversion + 1
		abody, err := encode(&nextApproval)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE approvals SET status = ?, version = ?, body = ? WHERE id = ?`,
			string(nextApproval.Status), nextApproval.Version, abody, approval.ID); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	action.Version = next.Version
	if approval != nil {
		approval.Version = nextApproval.Version
	}
	return nil
}

// ── Collaboration Store ─────────────────────────────────────

func (s *SQLiteStore) SaveCollaboration(ctx context.Context, c *models.Collaboration) error {
	body, err := encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collaborations (id, query_id, created_at, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body`,
		c.ID, c.QueryID, ts(c.CreatedAt), body)
	return err
}

func (s *SQLiteStore) GetCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM collaborations WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "collaboration", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var c models.Collaboration
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ListCollaborations(ctx context.Context, queryID string) ([]models.Collaboration, error) {
	return queryBodies[models.Collaboration](ctx, s.db,
		`SELECT body FROM collaborations WHERE (? = '' OR query_id = ?) ORDER BY created_at`, queryID, queryID)
}

// queryBodies runs a single-column JSON body query and decodes every row.
func queryBodies[T any](ctx context.Context, db queryer, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
