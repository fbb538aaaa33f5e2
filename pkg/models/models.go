package models

import (
	"strings"
	"time"
)

// ── Principal ────────────────────────────────────────────────

// Principal is the authenticated caller a query runs on behalf of.
//
// Permissions use the forms "{mode}:{capability}", "{mode}:*",
// "approve:{scope}:{actionType}", "approve:{scope}:*" and "approve:*".
type Principal struct {
	ID          string   `json:"id" yaml:"id"`
	DisplayName string   `json:"display_name,omitempty" yaml:"display_name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	Scopes      []string `json:"scopes" yaml:"scopes"` // "*" grants every scope
}

// HasPermission reports whether the principal holds perm exactly.
func (p Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// PermManageKnowledge allows creating knowledge bases and ingesting documents.
const PermManageKnowledge = "knowledge:write"

// Can reports whether the principal may use capability c in mode m.
func (p Principal) Can(m Mode, c Capability) bool {
	if !m.Valid() {
		return false
	}
	return p.HasPermission(Permission(m, c)) || p.HasPermission(m.String()+":*")
}

// CanApprove reports whether the principal may decide actions of the given
// type in the given scope.
func (p Principal) CanApprove(scope string, actionType ActionType) bool {
	return p.HasPermission("approve:*") ||
		p.HasPermission("approve:"+scope+":*") ||
		p.HasPermission("approve:"+scope+":"+string(actionType))
}

// InScope reports whether scope is one of the principal's scopes.
func (p Principal) InScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == "*" || s == scope {
			return true
		}
		// "prod/*" covers "prod/eu-west" and "prod"
		if strings.HasSuffix(s, "/*") {
			prefix := strings.TrimSuffix(s, "/*")
			if scope == prefix || strings.HasPrefix(scope, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// ── Query & Result ───────────────────────────────────────────

// Query is an immutable user request.
type Query struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Mode      Mode              `json:"mode,omitempty"`
	Scope     string            `json:"scope"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Principal string            `json:"principal"`
	CreatedAt time.Time         `json:"created_at"`
}

// Meta returns a metadata value or "".
func (q Query) Meta(key string) string {
	if q.Metadata == nil {
		return ""
	}
	return q.Metadata[key]
}

// Well-known query metadata keys.
const (
	MetaApprovalToken   = "approval_token"
	MetaCollaborate     = "collaborate"
	MetaKnowledgeBases  = "knowledge_bases"
	MetaSpecializations = "specializations"
)

// Result is the outcome of handling a Query. Exactly one is recorded per Query.
type Result struct {
	QueryID         string         `json:"query_id"`
	Success         bool           `json:"success"`
	Mode            Mode           `json:"mode"`
	Response        string         `json:"response"`
	Data            map[string]any `json:"data"`
	Confidence      float64        `json:"confidence"` // 0-100
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Warnings        []string       `json:"warnings"`
	Errors          []string       `json:"errors"`
	AccessDenied    bool           `json:"access_denied"`
	AccessReason    string         `json:"access_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewResult returns an empty Result with non-nil collections.
func NewResult(queryID string, mode Mode) *Result {
	return &Result{
		QueryID:   queryID,
		Mode:      mode,
		Data:      map[string]any{},
		Warnings:  []string{},
		Errors:    []string{},
		CreatedAt: time.Now().UTC(),
	}
}

// Warn appends a warning.
func (r *Result) Warn(msg string) { r.Warnings = append(r.Warnings, msg) }

// Fail marks the result unsuccessful and records err.
func (r *Result) Fail(err error) {
	r.Success = false
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// ClampConfidence keeps confidence within 0-100.
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

// ── Session ──────────────────────────────────────────────────

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is an ordered history of turns owned by one principal.
type Session struct {
	ID        string        `json:"id"`
	Principal string        `json:"principal"`
	Status    SessionStatus `json:"status"`
	Turns     []Turn        `json:"turns"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// Turn pairs a Query with its Result. Seq is assigned at submission.
type Turn struct {
	Seq    int     `json:"seq"`
	Query  Query   `json:"query"`
	Result *Result `json:"result,omitempty"`
}

// ── Knowledge ────────────────────────────────────────────────

type KnowledgeCategory string

const (
	CategoryIncidents     KnowledgeCategory = "incidents"
	CategoryBestPractices KnowledgeCategory = "best_practices"
	CategoryCodeDocs      KnowledgeCategory = "code_docs"
	CategoryRunbooks      KnowledgeCategory = "runbooks"
)

// Valid reports whether c is a known category.
func (c KnowledgeCategory) Valid() bool {
	switch c {
	case CategoryIncidents, CategoryBestPractices, CategoryCodeDocs, CategoryRunbooks:
		return true
	}
	return false
}

// KnowledgeBaseConfig controls how documents are chunked.
type KnowledgeBaseConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
}

// KnowledgeBase groups documents of one category.
type KnowledgeBase struct {
	ID        string              `json:"id" yaml:"id"`
	Name      string              `json:"name" yaml:"name"`
	Category  KnowledgeCategory   `json:"category" yaml:"category"`
	Config    KnowledgeBaseConfig `json:"config" yaml:"config"`
	CreatedAt time.Time           `json:"created_at" yaml:"-"`
}

type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentChunking DocumentStatus = "chunking"
	DocumentReady    DocumentStatus = "ready"
	DocumentFailed   DocumentStatus = "failed"
)

// KnowledgeDocument is a source document. Generation increments on every
// successful re-ingestion so chunk ids from older runs never collide.
type KnowledgeDocument struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	SourceRef       string         `json:"source_ref,omitempty"`
	Status          DocumentStatus `json:"status"`
	ChunkCount      int            `json:"chunk_count"`
	Generation      int            `json:"generation"`
	ContentHash     string         `json:"content_hash"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// KnowledgeChunk is a contiguous window of a document. Start and End are
// rune offsets into the document content.
type KnowledgeChunk struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"document_id"`
	KnowledgeBaseID   string    `json:"knowledge_base_id"`
	Text              string    `json:"text"`
	Start             int       `json:"start"`
	End               int       `json:"end"`
	Position          int       `json:"position"`
	VectorRef         string    `json:"vector_ref"`
	Generation        int       `json:"generation"`
	DocumentTitle     string    `json:"document_title,omitempty"`
	DocumentUpdatedAt time.Time `json:"document_updated_at"`
}

// RetrievedChunk is a chunk with its similarity score.
type RetrievedChunk struct {
	KnowledgeChunk
	Score float64 `json:"score"`
}

// ── Specialists & Collaboration ──────────────────────────────

type Domain string

const (
	DomainMetrics  Domain = "metrics"
	DomainLogs     Domain = "logs"
	DomainSecurity Domain = "security"
	DomainCost     Domain = "cost"
	DomainTopology Domain = "topology"
	DomainCode     Domain = "code"
)

// ModelClass selects which backend model family serves a prompt.
type ModelClass string

const (
	ModelCodeInfra ModelClass = "code_infra"
	ModelAnalytics ModelClass = "analytics"
)

// Specialization describes one specialist agent.
type Specialization struct {
	ID             string     `json:"id" yaml:"id"`
	Domain         Domain     `json:"domain" yaml:"domain"`
	Description    string     `json:"description" yaml:"description"`
	Capabilities   []string   `json:"capabilities" yaml:"capabilities"`
	ModelClass     ModelClass `json:"model_class" yaml:"model_class"`
	PromptTemplate string     `json:"prompt_template" yaml:"prompt_template"`
	DataSources    []string   `json:"data_sources" yaml:"data_sources"`
}

type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyParallel     Strategy = "parallel"
	StrategyOrchestrated Strategy = "orchestrated"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyOrchestrated:
		return true
	}
	return false
}

type PartialStatus string

const (
	PartialCompleted PartialStatus = "completed"
	PartialFailed    PartialStatus = "failed"
	PartialTimedOut  PartialStatus = "timed_out"
	PartialSkipped   PartialStatus = "skipped"
)

// PartialResult is one specialist's contribution to a collaboration.
type PartialResult struct {
	SpecializationID string         `json:"specialization_id"`
	Domain           Domain         `json:"domain"`
	Status           PartialStatus  `json:"status"`
	Finding          string         `json:"finding"`
	Data             map[string]any `json:"data,omitempty"`
	Confidence       float64        `json:"confidence"`
	ContextUsed      []string       `json:"context_used"`
	Warnings         []string       `json:"warnings,omitempty"`
	Error            string         `json:"error,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
}

type CollaborationStatus string

const (
	CollaborationRunning   CollaborationStatus = "running"
	CollaborationCompleted CollaborationStatus = "completed"
	CollaborationDegraded  CollaborationStatus = "degraded"
	CollaborationFailed    CollaborationStatus = "failed"
)

// Collaboration records a multi-specialist run for one query.
type Collaboration struct {
	ID           string              `json:"id"`
	QueryID      string              `json:"query_id"`
	Strategy     Strategy            `json:"strategy"`
	Participants []string            `json:"participants"`
	Partials     []PartialResult     `json:"partials"`
	Final        *Result             `json:"final,omitempty"`
	Status       CollaborationStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// ── Actions & Approvals ──────────────────────────────────────

type ActionType string

const (
	ActionDeploy    ActionType = "deploy"
	ActionScale     ActionType = "scale"
	ActionRestart   ActionType = "restart"
	ActionRollback  ActionType = "rollback"
	ActionConfigure ActionType = "configure"
	ActionUpdate    ActionType = "update"
)

// Capability returns the execute-mode capability an action type needs.
func (t ActionType) Capability() Capability {
	switch t {
	case ActionDeploy:
		return CapDeploy
	case ActionScale:
		return CapScale
	case ActionRollback:
		return CapRollback
	default:
		return CapConfigure
	}
}

type ActionStatus string

const (
	ActionPendingApproval ActionStatus = "pending_approval"
	ActionApproved        ActionStatus = "approved"
	ActionRejected        ActionStatus = "rejected"
	ActionExpired         ActionStatus = "expired"
	ActionExecuting       ActionStatus = "executing"
	ActionSucceeded       ActionStatus = "succeeded"
	ActionFailed          ActionStatus = "failed"
	ActionRolledBack      ActionStatus = "rolled_back"
)

// Target identifies what an action mutates.
type Target struct {
	Kind  string `json:"kind"` // service, deployment, repository, ...
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

// RollbackDescriptor describes how to undo a failed action.
type RollbackDescriptor struct {
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Action is a proposed or executed mutation.
type Action struct {
	ID            string              `json:"id"`
	QueryID       string              `json:"query_id"`
	SessionID     string              `json:"session_id"`
	Type          ActionType          `json:"type"`
	Target        Target              `json:"target"`
	Parameters    map[string]string   `json:"parameters,omitempty"`
	Status        ActionStatus        `json:"status"`
	Output        string              `json:"output,omitempty"`
	Error         string              `json:"error,omitempty"`
	Rollback      *RollbackDescriptor `json:"rollback,omitempty"`
	RollbackError string              `json:"rollback_error,omitempty"`
	RequestedBy   string              `json:"requested_by"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Version       int64               `json:"version"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Approval gates one Action. Its ID doubles as the approval token.
type Approval struct {
	ID        string         `json:"id"`
	ActionID  string         `json:"action_id"`
	Status    ApprovalStatus `json:"status"`
	Requester string         `json:"requester"`
	Approver  string         `json:"approver,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Version   int64          `json:"version"`
}

// Expired reports whether a pending approval is past its expiry at now.
func (a *Approval) Expired(now time.Time) bool {
	return a.Status == ApprovalPending && !now.Before(a.ExpiresAt)
}
