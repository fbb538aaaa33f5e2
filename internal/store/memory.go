// In-memory Store implementation.
// Used for local dev and tests. Supports file-based snapshot persistence so
// data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Sessions       map[string]*models.Session           `json:"sessions"`
	KnowledgeBases map[string]*models.KnowledgeBase     `json:"knowledge_bases"`
	Documents      map[string]*models.KnowledgeDocument `json:"documents"`
	Chunks         map[string][]models.KnowledgeChunk   `json:"chunks"` // key: document id
	Actions        map[string]*models.Action            `json:"actions"`
	Approvals      map[string]*models.Approval          `json:"approvals"`
	Collaborations map[string]*models.Collaboration     `json:"collaborations"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu             sync.RWMutex
	sessions       map[string]*models.Session           // key: id
	knowledgeBases map[string]*models.KnowledgeBase     // key: id
	documents      map[string]*models.KnowledgeDocument // key: id
	chunks         map[string][]models.KnowledgeChunk   // key: document id
	chunkIndex     map[string]models.KnowledgeChunk     // key: chunk id, committed only
	actions        map[string]*models.Action            // key: id
	approvals      map[string]*models.Approval          // key: id (token)
	collabs        map[string]*models.Collaboration     // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. When dataDir is non-empty,
// data is persisted to dataDir/devopsmate.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		sessions:       make(map[string]*models.Session),
		knowledgeBases: make(map[string]*models.KnowledgeBase),
		documents:      make(map[string]*models.KnowledgeDocument),
		chunks:         make(map[string][]models.KnowledgeChunk),
		chunkIndex:     make(map[string]models.KnowledgeChunk),
		actions:        make(map[string]*models.Action),
		approvals:      make(map[string]*models.Approval),
		collabs:        make(map[string]*models.Collaboration),
		saveCh:         make(chan struct{}, 1),
		doneCh:         make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "devopsmate.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Sessions:       m.sessions,
		KnowledgeBases: m.knowledgeBases,
		Documents:      m.documents,
		Chunks:         m.chunks,
		Actions:        m.actions,
		Approvals:      m.approvals,
		Collaborations: m.collabs,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Sessions != nil {
		m.sessions = snap.Sessions
	}
	if snap.KnowledgeBases != nil {
		m.knowledgeBases = snap.KnowledgeBases
	}
	if snap.Documents != nil {
		m.documents = snap.Documents
	}
	if snap.Chunks != nil {
		m.chunks = snap.Chunks
		for _, set := range m.chunks {
			for _, c := range set {
				m.chunkIndex[c.ID] = c
			}
		}
	}
	if snap.Actions != nil {
		m.actions = snap.Actions
	}
	if snap.Approvals != nil {
		m.approvals = snap.Approvals
	}
	if snap.Collaborations != nil {
		m.collabs = snap.Collaborations
	}

	log.Info().
		Int("sessions", len(m.sessions)).
		Int("documents", len(m.documents)).
		Int("chunks", len(m.chunkIndex)).
		Int("actions", len(m.actions)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Session Store ───────────────────────────────────────────

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.Turns = make([]models.Turn, len(s.Turns))
	for i, t := range s.Turns {
		cp.Turns[i] = t
		if t.Result != nil {
			r := *t.Result
			cp.Turns[i].Result = &r
		}
	}
	return &cp
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	cp := cloneSession(session)
	if cp.Status == "" {
		cp.Status = models.SessionActive
	}
	m.sessions[session.ID] = cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, principal string, limit int) ([]models.Session, error) {
	m.mu.RLock()
	var result []models.Session
	for _, s := range m.sessions {
		if principal != "" && s.Principal != principal {
			continue
		}
		result = append(result, *cloneSession(s))
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CloseSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "session", Key: id}
	}
	if s.Status != models.SessionClosed {
		s.Status = models.SessionClosed
		s.ClosedAt = &at
		s.UpdatedAt = at
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteSessions(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	n := 0
	for _, id := range ids {
		if _, ok := m.sessions[id]; ok {
			delete(m.sessions, id)
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

func (m *MemoryStore) AppendQuery(_ context.Context, sessionID string, q *models.Query) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return 0, &ErrNotFound{Entity: "session", Key: sessionID}
	}
	if s.Status == models.SessionClosed {
		m.mu.Unlock()
		return 0, ErrSessionClosed
	}
	seq := len(s.Turns) + 1
	s.Turns = append(s.Turns, models.Turn{Seq: seq, Query: *q})
	s.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return seq, nil
}

func (m *MemoryStore) RecordResult(_ context.Context, sessionID, queryID string, r *models.Result) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "session", Key: sessionID}
	}
	for i := range s.Turns {
		if s.Turns[i].Query.ID != queryID {
			continue
		}
		if s.Turns[i].Result != nil {
			m.mu.Unlock()
			return &ErrStale{Entity: "result", Key: queryID, Expected: "unrecorded", Actual: "recorded"}
		}
		cp := *r
		s.Turns[i].Result = &cp
		s.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()
		m.requestSave()
		return nil
	}
	m.mu.Unlock()
	return &ErrNotFound{Entity: "query", Key: queryID}
}

// ── Knowledge Store ─────────────────────────────────────────

func (m *MemoryStore) CreateKnowledgeBase(_ context.Context, kb *models.KnowledgeBase) error {
	m.mu.Lock()
	cp := *kb
	m.knowledgeBases[kb.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetKnowledgeBase(_ context.Context, id string) (*models.KnowledgeBase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kb, ok := m.knowledgeBases[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "knowledge_base", Key: id}
	}
	cp := *kb
	return &cp, nil
}

func (m *MemoryStore) ListKnowledgeBases(_ context.Context) ([]models.KnowledgeBase, error) {
	m.mu.RLock()
	result := make([]models.KnowledgeBase, 0, len(m.knowledgeBases))
	for _, kb := range m.knowledgeBases {
		result = append(result, *kb)
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) UpsertDocument(_ context.Context, doc *models.KnowledgeDocument) error {
	m.mu.Lock()
	cp := *doc
	m.documents[doc.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (*models.KnowledgeDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "document", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, knowledgeBaseID string) ([]models.KnowledgeDocument, error) {
	m.mu.RLock()
	var result []models.KnowledgeDocument
	for _, d := range m.documents {
		if knowledgeBaseID == "" || d.KnowledgeBaseID == knowledgeBaseID {
			result = append(result, *d)
		}
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) CommitChunks(_ context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) ([]models.KnowledgeChunk, error) {
	m.mu.Lock()
	old := m.chunks[doc.ID]
	for _, c := range old {
		delete(m.chunkIndex, c.ID)
	}
	set := append([]models.KnowledgeChunk(nil), chunks...)
	for _, c := range set {
		m.chunkIndex[c.ID] = c
	}
	m.chunks[doc.ID] = set
	cp := *doc
	m.documents[doc.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return old, nil
}

func (m *MemoryStore) ListChunks(_ context.Context, documentID string) ([]models.KnowledgeChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.KnowledgeChunk(nil), m.chunks[documentID]...), nil
}

func (m *MemoryStore) GetChunks(_ context.Context, ids []string) (map[string]models.KnowledgeChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]models.KnowledgeChunk, len(ids))
	for _, id := range ids {
		if c, ok := m.chunkIndex[id]; ok {
			result[id] = c
		}
	}
	return result, nil
}

// ── Action Store ────────────────────────────────────────────

func (m *MemoryStore) CreateAction(_ context.Context, action *models.Action, approval *models.Approval) error {
	m.mu.Lock()
	a := *action
	m.actions[action.ID] = &a
	if approval != nil {
		ap := *approval
		m.approvals[approval.ID] = &ap
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAction(_ context.Context, id string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "action", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ap, ok := m.approvals[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: id}
	}
	cp := *ap
	return &cp, nil
}

func (m *MemoryStore) GetApprovalForAction(_ context.Context, actionID string) (*models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ap := range m.approvals {
		if ap.ActionID == actionID {
			cp := *ap
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "approval", Key: "action:" + actionID}
}

func (m *MemoryStore) ListApprovals(_ context.Context, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	m.mu.RLock()
	var result []models.Approval
	for _, ap := range m.approvals {
		if status != "" && ap.Status != status {
			continue
		}
		result = append(result, *ap)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SwapAction(_ context.Context, expect models.ActionStatus, action *models.Action, approval *models.Approval) error {
	m.mu.Lock()
	current, ok := m.actions[action.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "action", Key: action.ID}
	}
	if current.Status != expect {
		actual := current.Status
		m.mu.Unlock()
		return &ErrStale{Entity: "action", Key: action.ID, Expected: string(expect), Actual: string(actual)}
	}

	a := *action
	a.Version = current.Version + 1
	m.actions[action.ID] = &a
	action.Version = a.Version

	if approval != nil {
		ap := *approval
		if prev, ok := m.approvals[approval.ID]; ok {
			ap.Version = prev.Version + 1
		}
		m.approvals[approval.ID] = &ap
		approval.Version = ap.Version
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Collaboration Store ─────────────────────────────────────

func (m *MemoryStore) SaveCollaboration(_ context.Context, c *models.Collaboration) error {
	m.mu.Lock()
	cp := *c
	cp.Partials = append([]models.PartialResult(nil), c.Partials...)
	m.collabs[c.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetCollaboration(_ context.Context, id string) (*models.Collaboration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collabs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "collaboration", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListCollaborations(_ context.Context, queryID string) ([]models.Collaboration, error) {
	m.mu.RLock()
	var result []models.Collaboration
	for _, c := range m.collabs {
		if queryID == "" || c.QueryID == queryID {
			result = append(result, *c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
