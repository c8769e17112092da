// Package store is the Store component (SPEC_FULL.md §4.A): a thin,
// synchronous persistence layer over an embedded SQLite database. It is
// the single source of truth for sessions, prompts, the pending-message
// queue, observations, summaries, agents, project aliases, and the audit
// log.
package store

import (
	"context"
	"errors"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// Sentinel errors returned by Store operations. Callers classify on these
// rather than string-matching driver errors.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrAlreadyExists      = errors.New("store: already exists")
	ErrInvalidVisibility  = errors.New("store: invalid visibility")
	ErrInvalidObservation = errors.New("store: invalid observation type")
	ErrInvalidAgentID     = errors.New("store: invalid agent id format")
	ErrNoClaim            = errors.New("store: no pending message available")
	ErrMigrationsPending  = errors.New("store: required migrations have not applied")
)

// ListOptions configures session listing.
type ListOptions struct {
	Project string
	Limit   int
	Offset  int
}

// Store is the persistence contract SPEC_FULL.md §4.A describes. It is
// implemented by *SQLiteStore; the interface exists so SessionManager,
// SearchEngine, and the HTTP layer can be tested against an in-memory
// fake where a real SQLite round-trip is not what the test is about.
type Store interface {
	// Sessions
	GetOrCreateSession(ctx context.Context, contentSessionID, project, userPrompt string, nowEpoch int64) (*models.Session, error)
	GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error)
	GetSessionByID(ctx context.Context, id int64) (*models.Session, error)
	SetMemorySessionID(ctx context.Context, sessionID int64, memorySessionID string) error
	UpdateSessionStatus(ctx context.Context, sessionID int64, status models.SessionStatus, completedAtEpoch *int64) error
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
	IncrementPromptCounter(ctx context.Context, sessionDbID int64) (int, error)

	// UserPrompts
	AppendUserPrompt(ctx context.Context, p *models.UserPrompt) (int64, error)
	CountUserPrompts(ctx context.Context, contentSessionID string) (int, error)
	SearchUserPrompts(ctx context.Context, query string, limit int) ([]*models.UserPrompt, error)
	ListUserPromptsForProject(ctx context.Context, project string, limit int) ([]*models.UserPrompt, error)

	// PendingMessage queue
	Enqueue(ctx context.Context, msg *models.PendingMessage) (int64, error)
	ClaimNextForSession(ctx context.Context, sessionDbID int64) (*models.PendingMessage, error)
	MarkProcessed(ctx context.Context, id int64, completedAtEpoch int64) error
	MarkFailed(ctx context.Context, id int64, reason string, failedAtEpoch int64, retry bool) error
	MarkSessionMessagesFailed(ctx context.Context, sessionDbID int64, reason string, nowEpoch int64) error
	ResetStaleProcessing(ctx context.Context, staleBeforeEpoch int64, nowEpoch int64) (int, error)

	// Observations & Summaries
	CommitObservations(ctx context.Context, pendingMessageID int64, observations []*models.Observation, summary *models.SessionSummary, completedAtEpoch int64) ([]int64, *int64, error)
	GetObservationsByIDs(ctx context.Context, ids []int64) ([]*models.Observation, error)
	RecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error)
	QueryObservations(ctx context.Context, f ObservationFilter) ([]*models.Observation, error)
	RecentSummaries(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error)

	// Agents
	RegisterAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error)
	RecordVerifySuccess(ctx context.Context, id string, nowEpoch int64) error
	RecordVerifyFailure(ctx context.Context, id string, nowEpoch int64, maxAttempts int, lockoutSeconds int64) error
	RotateAgentKey(ctx context.Context, id, newPrefix, newHash string, newExpiresAtEpoch *int64) error
	RevokeAgent(ctx context.Context, id string) error
	HasAnyAgents(ctx context.Context) (bool, error)

	// Aliases
	RegisterAlias(ctx context.Context, oldProject, newProject string, nowEpoch int64) error
	ProjectsWithAliases(ctx context.Context, project string, max int) ([]string, error)
	CleanupAliases(ctx context.Context, olderThanEpoch int64) (int, error)

	// Audit log
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error

	// Stats aggregates the counters HTTPRouter's /api/metrics endpoint
	// reports (SPEC_FULL.md §4.H).
	Stats(ctx context.Context, nowEpoch int64) (Stats, error)

	// Conversation history
	SaveHistory(ctx context.Context, sessionDbID int64, messages []models.Message) error
	LoadHistory(ctx context.Context, sessionDbID int64) ([]models.Message, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	MigrationsClean(ctx context.Context) (bool, error)
	Close() error

	// Notifier used by SessionManager's message iterator (SPEC_FULL.md
	// §4.E): returns a channel that is closed the next time Enqueue
	// succeeds for sessionDbID, implementing the per-session condition
	// variable the spec describes in channel form.
	Notify(sessionDbID int64) <-chan struct{}
}

// ObservationFilter captures the structured-stage filters SearchEngine
// applies (SPEC_FULL.md §4.I).
type ObservationFilter struct {
	Projects     []string // already alias-expanded
	Type         models.ObservationType
	Concepts     []string
	FileSubstr   string
	FromEpoch    int64
	ToEpoch      int64 // 0 means unbounded
	Visibilities []models.Visibility
	Agent        string
	Department   string
	IDs          []int64 // when set, restricts to these ids (vector-stage intersection)
	Limit        int
}

// Stats is the aggregate snapshot GET /api/metrics reports (SPEC_FULL.md
// §4.H). Lockouts24h counts verify attempts rejected against an
// already-locked account in the trailing 24h window, not the moment an
// account crosses into lockout: the agents table only keeps the current
// locked_until_epoch, not a history of when each lock was set, so the
// audit log's verify_failure_locked entries are the closest proxy.
type Stats struct {
	AgentsTotal     int
	AgentsVerified  int
	AgentsLocked    int
	AgentsActive24h int
	AuthFailed1h    int
	Lockouts24h     int

	AliasesTotal         int
	AliasesAvgPerProject float64
	AliasesMaxPerProject int

	ObservationsTotal        int
	ObservationsByVisibility map[string]int
}
