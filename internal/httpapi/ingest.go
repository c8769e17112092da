package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sebastienvg/claude-mem/internal/respproc"
	"github.com/sebastienvg/claude-mem/internal/sessionmgr"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

type ingestObservationRequest struct {
	ContentSessionID string  `json:"contentSessionId"`
	Project          string  `json:"project"`
	Cwd              string  `json:"cwd"`
	ToolName         string  `json:"toolName"`
	ToolInput        string  `json:"toolInput"`
	ToolResponse     string  `json:"toolResponse"`
	PromptNumber     *int    `json:"promptNumber"`
	BeadID           *string `json:"beadId"`
}

// handleIngestObservation implements POST /api/ingest/observation
// (spec.md §4.H): create the Session if absent, enqueue an observation
// PendingMessage, and spawn the session's supervisor task.
func (r *Router) handleIngestObservation(w http.ResponseWriter, req *http.Request) {
	var body ingestObservationRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.ContentSessionID == "" || body.Project == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId and project are required")
		return
	}
	if r.skipTools[body.ToolName] {
		writeJSON(w, http.StatusAccepted, map[string]any{"skipped": true})
		return
	}

	ctx := req.Context()
	now := r.now()

	sess, err := r.store.GetOrCreateSession(ctx, body.ContentSessionID, body.Project, "", now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
		return
	}
	r.stampAgentContext(sess.ID, req)

	msg := &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		ToolName:         strPtr(body.ToolName),
		ToolInput:        strPtr(body.ToolInput),
		ToolResponse:     strPtr(body.ToolResponse),
		Cwd:              strPtr(body.Cwd),
		PromptNumber:     body.PromptNumber,
		BeadID:           body.BeadID,
		CreatedAtEpoch:   now,
	}
	pendingID, err := r.store.Enqueue(ctx, msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue: %v", err))
		return
	}

	r.spawnSession(sess.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"pendingMessageId": pendingID})
}

type ingestSummarizeRequest struct {
	ContentSessionID      string `json:"contentSessionId"`
	LastAssistantMessage  string `json:"lastAssistantMessage"`
}

// handleIngestSummarize implements POST /api/ingest/summarize.
func (r *Router) handleIngestSummarize(w http.ResponseWriter, req *http.Request) {
	var body ingestSummarizeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.ContentSessionID == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId is required")
		return
	}

	ctx := req.Context()
	sess, err := r.store.GetSessionByContentID(ctx, body.ContentSessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	r.stampAgentContext(sess.ID, req)

	now := r.now()
	pendingID, err := r.store.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:          sess.ID,
		ContentSessionID:     sess.ContentSessionID,
		MessageType:          models.MessageSummarize,
		LastAssistantMessage: strPtr(body.LastAssistantMessage),
		CreatedAtEpoch:       now,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue: %v", err))
		return
	}

	r.spawnSession(sess.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"pendingMessageId": pendingID})
}

type sessionPromptRequest struct {
	ContentSessionID string  `json:"contentSessionId"`
	PromptText       string  `json:"promptText"`
	AgentID          *string `json:"agentId"`
	SenderID         *string `json:"senderId"`
}

// handleSessionPrompt implements POST /api/session/prompt: assigns the
// next promptNumber, persists the UserPrompt, and bumps promptCounter.
func (r *Router) handleSessionPrompt(w http.ResponseWriter, req *http.Request) {
	var body sessionPromptRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.ContentSessionID == "" || body.PromptText == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId and promptText are required")
		return
	}

	ctx := req.Context()
	now := r.now()
	sess, err := r.store.GetOrCreateSession(ctx, body.ContentSessionID, "", body.PromptText, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
		return
	}

	promptNumber, err := r.store.IncrementPromptCounter(ctx, sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("increment prompt counter: %v", err))
		return
	}

	id, err := r.store.AppendUserPrompt(ctx, &models.UserPrompt{
		ContentSessionID: sess.ContentSessionID,
		PromptNumber:     promptNumber,
		PromptText:       body.PromptText,
		AgentID:          body.AgentID,
		SenderID:         body.SenderID,
		CreatedAtEpoch:   now,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("append prompt: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"userPromptId": id, "promptNumber": promptNumber})
}

// stampAgentContext records the AgentContext respproc.Processor's
// contextFor hook will read for sessionDbID, from the request's
// authenticated agent (or the zero value in bootstrap mode).
func (r *Router) stampAgentContext(sessionDbID int64, req *http.Request) {
	a := agentFromContext(req.Context())
	if a == nil {
		return
	}
	r.rememberAgentContext(sessionDbID, respproc.AgentContext{
		Agent:      a.ID,
		Department: a.Department,
		Visibility: models.DefaultVisibility,
	})
}

// spawnSession runs the start-session algorithm in its own goroutine.
// ErrAlreadyRunning is expected and harmless: the already-active task's
// message iterator observes the newly enqueued row via Store.Notify.
func (r *Router) spawnSession(sessionDbID int64) {
	go func() {
		holder := fmt.Sprintf("httpapi-%d", sessionDbID)
		if err := r.sessions.RunSession(context.Background(), sessionDbID, holder); err != nil {
			if err == sessionmgr.ErrAlreadyRunning {
				return
			}
			r.logger.Error("httpapi: session run failed", "session_db_id", sessionDbID, "error", err)
		}
	}()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
