// Package agentregistry is the AgentRegistry component (SPEC_FULL.md
// §4.D): agent records, API key issuance, verification, lockout, expiry,
// rotation, and audit logging.
package agentregistry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

var (
	ErrInvalidIDFormat = errors.New("agentregistry: id must match ^[A-Za-z0-9._-]+@[A-Za-z0-9._-]+$")
	ErrInvalidKey      = errors.New("agentregistry: invalid api key")
	ErrExpired         = errors.New("agentregistry: api key expired")
)

// AgentLocked is returned when verification is attempted while an agent
// is within its lockout window; it carries the unlock time so callers
// can surface a Retry-After.
type AgentLocked struct {
	AgentID        string
	UnlockAtEpoch int64
}

func (e *AgentLocked) Error() string {
	return fmt.Sprintf("agentregistry: agent %q is locked until %d", e.AgentID, e.UnlockAtEpoch)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9._-]+$`)

// ValidID reports whether id matches spec.md §4.D's format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

const (
	keyPrefixLength    = 12
	defaultExpiryDays  = 90
	defaultMaxAttempts = 5
	defaultLockoutSecs = 900
)

// Store is the narrow Store slice AgentRegistry depends on.
type Store interface {
	RegisterAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error)
	RecordVerifySuccess(ctx context.Context, id string, nowEpoch int64) error
	RecordVerifyFailure(ctx context.Context, id string, nowEpoch int64, maxAttempts int, lockoutSeconds int64) error
	RotateAgentKey(ctx context.Context, id, newPrefix, newHash string, newExpiresAtEpoch *int64) error
	RevokeAgent(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error
}

// Config tunes the lockout policy and key lifetime, overridable per
// deployment (SPEC_FULL.md §6 configuration surface).
type Config struct {
	MaxAttempts    int
	LockoutSeconds int64
	ExpiryDays     int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = defaultLockoutSecs
	}
	if c.ExpiryDays <= 0 {
		c.ExpiryDays = defaultExpiryDays
	}
	return c
}

// Registry implements spec.md §4.D over a Store.
type Registry struct {
	store Store
	cfg   Config
	now   func() int64
}

func New(store Store, cfg Config) *Registry {
	return &Registry{store: store, cfg: cfg.withDefaults(), now: func() int64 { return time.Now().UnixMilli() }}
}

// IssuedKey is returned exactly once, at registration or rotation; the
// plaintext is never retrievable afterward.
type IssuedKey struct {
	PlaintextKey   string
	Prefix         string
	Hash           string
	ExpiresAtEpoch int64
}

func generateKey() (plaintext, prefix, hash string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("agentregistry: generate key: %w", err)
	}
	plaintext = "cm_" + base64.RawURLEncoding.EncodeToString(raw)
	if len(plaintext) < keyPrefixLength {
		return "", "", "", fmt.Errorf("agentregistry: generated key shorter than prefix length")
	}
	prefix = plaintext[:keyPrefixLength]
	sum := sha256.Sum256([]byte(plaintext))
	hash = hex.EncodeToString(sum[:])
	return plaintext, prefix, hash, nil
}

// Register validates the id format, issues a key, and appends a register
// audit event.
func (r *Registry) Register(ctx context.Context, id, department, permissions string, spawnedBy, beadID, role *string) (*models.Agent, IssuedKey, error) {
	if !ValidID(id) {
		return nil, IssuedKey{}, ErrInvalidIDFormat
	}
	plaintext, prefix, hash, err := generateKey()
	if err != nil {
		return nil, IssuedKey{}, err
	}
	now := r.now()
	expiresAt := now + int64(r.cfg.ExpiryDays)*24*3600*1000

	agent := &models.Agent{
		ID:             id,
		Department:     department,
		Permissions:    permissions,
		APIKeyPrefix:   prefix,
		APIKeyHash:     hash,
		CreatedAtEpoch: now,
		ExpiresAtEpoch: &expiresAt,
		SpawnedBy:      spawnedBy,
		BeadID:         beadID,
		Role:           role,
	}
	if err := r.store.RegisterAgent(ctx, agent); err != nil {
		return nil, IssuedKey{}, fmt.Errorf("agentregistry: register: %w", err)
	}
	r.audit(ctx, id, "register", now)
	return agent, IssuedKey{PlaintextKey: plaintext, Prefix: prefix, Hash: hash, ExpiresAtEpoch: expiresAt}, nil
}

// Verify looks up the agent by key prefix, rejects while locked or
// expired, and compares hashes in constant time, per spec.md §4.D.
func (r *Registry) Verify(ctx context.Context, plaintextKey string) (*models.Agent, error) {
	if len(plaintextKey) < keyPrefixLength {
		return nil, ErrInvalidKey
	}
	prefix := plaintextKey[:keyPrefixLength]
	agent, err := r.store.GetAgentByKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, ErrInvalidKey
	}

	now := r.now()
	if agent.Locked(now) {
		r.audit(ctx, agent.ID, "verify_failure_locked", now)
		return nil, &AgentLocked{AgentID: agent.ID, UnlockAtEpoch: *agent.LockedUntilEpoch}
	}
	if agent.ExpiresAtEpoch != nil && now > *agent.ExpiresAtEpoch {
		r.audit(ctx, agent.ID, "verify_failure_expired", now)
		return nil, ErrExpired
	}

	sum := sha256.Sum256([]byte(plaintextKey))
	candidateHash := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(agent.APIKeyHash)) != 1 {
		if err := r.store.RecordVerifyFailure(ctx, agent.ID, now, r.cfg.MaxAttempts, r.cfg.LockoutSeconds); err != nil {
			return nil, fmt.Errorf("agentregistry: record verify failure: %w", err)
		}
		r.audit(ctx, agent.ID, "verify_failure", now)
		return nil, ErrInvalidKey
	}

	if err := r.store.RecordVerifySuccess(ctx, agent.ID, now); err != nil {
		return nil, fmt.Errorf("agentregistry: record verify success: %w", err)
	}
	r.audit(ctx, agent.ID, "verify_success", now)
	agent.FailedAttempts = 0
	agent.LockedUntilEpoch = nil
	agent.LastSeenAtEpoch = &now
	return agent, nil
}

// Rotate invalidates the old key and issues a new one atomically.
func (r *Registry) Rotate(ctx context.Context, id string) (IssuedKey, error) {
	plaintext, prefix, hash, err := generateKey()
	if err != nil {
		return IssuedKey{}, err
	}
	now := r.now()
	expiresAt := now + int64(r.cfg.ExpiryDays)*24*3600*1000
	if err := r.store.RotateAgentKey(ctx, id, prefix, hash, &expiresAt); err != nil {
		return IssuedKey{}, fmt.Errorf("agentregistry: rotate: %w", err)
	}
	r.audit(ctx, id, "rotate", now)
	return IssuedKey{PlaintextKey: plaintext, Prefix: prefix, Hash: hash, ExpiresAtEpoch: expiresAt}, nil
}

func (r *Registry) Revoke(ctx context.Context, id string) error {
	if err := r.store.RevokeAgent(ctx, id); err != nil {
		return fmt.Errorf("agentregistry: revoke: %w", err)
	}
	r.audit(ctx, id, "revoke", r.now())
	return nil
}

func (r *Registry) audit(ctx context.Context, agentID, action string, nowEpoch int64) {
	// Audit failures must not break the calling operation; this mirrors
	// spec.md §7's "best-effort" treatment of non-primary side effects.
	_ = r.store.AppendAudit(ctx, &models.AuditLogEntry{
		AgentID:        agentID,
		Action:         action,
		CreatedAtEpoch: nowEpoch,
	})
}
