package models

// Agent is an identity with an issued API key. IDs take the form
// "name@host" and are validated against AgentIDPattern at registration.
type Agent struct {
	ID              string
	Department      string
	Permissions     string // combination of "read"/"write"
	APIKeyPrefix    string // first 12 chars of the issued key, indexed
	APIKeyHash      string // SHA-256 of the full key, unique
	CreatedAtEpoch  int64
	LastSeenAtEpoch *int64
	ExpiresAtEpoch  *int64
	Verified        bool
	FailedAttempts  int
	LockedUntilEpoch *int64

	SpawnedBy *string
	BeadID    *string
	Role      *string
}

// Locked reports whether the agent is currently locked out, given the
// current epoch-millis time.
func (a *Agent) Locked(nowEpoch int64) bool {
	return a.LockedUntilEpoch != nil && *a.LockedUntilEpoch > nowEpoch
}

// HasPermission reports whether the agent's permission string grants p
// ("read" or "write").
func (a *Agent) HasPermission(p string) bool {
	for _, c := range splitPermissions(a.Permissions) {
		if c == p {
			return true
		}
	}
	return false
}

func splitPermissions(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// ProjectAlias records that oldProject is a legacy identifier for
// newProject. Queries filtered by newProject must also match rows whose
// project equals any oldProject mapped to it.
type ProjectAlias struct {
	ID             int64
	OldProject     string
	NewProject     string
	CreatedAtEpoch int64
}

// AuditLogEntry is an append-only record of a security-relevant event.
type AuditLogEntry struct {
	ID             int64
	AgentID        string
	Action         string
	ResourceType   *string
	ResourceID     *string
	Details        *string // opaque, typically JSON
	IPAddress      *string
	CreatedAtEpoch int64
}
