package httpapi

import (
	"net/http"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

type registerRequest struct {
	ID          string  `json:"id"`
	Department  string  `json:"department"`
	Permissions string  `json:"permissions"`
	SpawnedBy   *string `json:"spawnedBy"`
	BeadID      *string `json:"beadId"`
	Role        *string `json:"role"`
}

// handleRegister implements POST /api/agents/register. The plaintext key
// is returned exactly once, in this response.
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body registerRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	agent, issued, err := r.agents.Register(req.Context(), body.ID, body.Department, body.Permissions, body.SpawnedBy, body.BeadID, body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"agent":  agentView(agent),
		"apiKey": issued.PlaintextKey,
	})
}

type verifyRequest struct {
	APIKey string `json:"apiKey"`
}

// handleVerify implements POST /api/agents/verify: confirms a plaintext
// key resolves to a live, unlocked, unexpired agent.
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	var body verifyRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	agent, err := r.agents.Verify(req.Context(), body.APIKey)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentView(agent)})
}

// handleMe implements GET /api/agents/me: the authenticated caller's own
// record.
func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	agent := agentFromContext(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentView(agent)})
}

// handleRotateKey implements POST /api/agents/rotate-key: issues a new
// key for the authenticated caller and invalidates the old one.
func (r *Router) handleRotateKey(w http.ResponseWriter, req *http.Request) {
	agent := agentFromContext(req.Context())
	issued, err := r.agents.Rotate(req.Context(), agent.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apiKey": issued.PlaintextKey})
}

// handleRevoke implements POST /api/agents/revoke: permanently disables
// the authenticated caller's key.
func (r *Router) handleRevoke(w http.ResponseWriter, req *http.Request) {
	agent := agentFromContext(req.Context())
	if err := r.agents.Revoke(req.Context(), agent.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// agentSummary is the wire-safe projection of models.Agent: APIKeyHash
// and APIKeyPrefix never round-trip over HTTP, even to the agent that
// owns them.
type agentSummary struct {
	ID              string  `json:"id"`
	Department      string  `json:"department"`
	Permissions     string  `json:"permissions"`
	CreatedAtEpoch  int64   `json:"createdAtEpoch"`
	LastSeenAtEpoch *int64  `json:"lastSeenAtEpoch,omitempty"`
	ExpiresAtEpoch  *int64  `json:"expiresAtEpoch,omitempty"`
	Verified        bool    `json:"verified"`
	SpawnedBy       *string `json:"spawnedBy,omitempty"`
	BeadID          *string `json:"beadId,omitempty"`
	Role            *string `json:"role,omitempty"`
}

func agentView(a *models.Agent) *agentSummary {
	if a == nil {
		return nil
	}
	return &agentSummary{
		ID:              a.ID,
		Department:      a.Department,
		Permissions:     a.Permissions,
		CreatedAtEpoch:  a.CreatedAtEpoch,
		LastSeenAtEpoch: a.LastSeenAtEpoch,
		ExpiresAtEpoch:  a.ExpiresAtEpoch,
		Verified:        a.Verified,
		SpawnedBy:       a.SpawnedBy,
		BeadID:          a.BeadID,
		Role:            a.Role,
	}
}
