package sessionmgr

import (
	"fmt"
	"strings"

	"github.com/sebastienvg/claude-mem/internal/modes"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// responseFormatInstructions is appended to every prompt so the LLM
// replies using the XML tag schema ResponseProcessor parses (spec.md
// §4.G). Grounded on internal/agent/prompt/builder.go's pattern of a
// fixed format-instructions block concatenated onto a per-round user
// message rather than carried as a separate system message, since
// LLMClient's contract (§4.F) sends a flat history with no system role.
const responseFormatInstructions = `Respond using these tags. Omit any tag you have nothing to say for.

<memory>
  <observation type="...">
    <title>...</title>
    <subtitle>...</subtitle>
    <fact>...</fact>
    <narrative>...</narrative>
    <concept>...</concept>
    <file_read>...</file_read>
    <file_modified>...</file_modified>
  </observation>
</memory>

<summary>
  <request>...</request>
  <investigated>...</investigated>
  <learned>...</learned>
  <completed>...</completed>
  <next_steps>...</next_steps>
  <notes>...</notes>
</summary>

Wrap anything that must not be persisted in <private>...</private>; it is stripped before parsing.`

// TemplatePromptBuilder is the default PromptBuilder implementation: plain
// string templates with no external state beyond an optional, read-only
// mode vocabulary, matching internal/agent/prompt.PromptBuilder's
// stateless, thread-safe shape.
type TemplatePromptBuilder struct {
	modes map[string]*modes.Mode
}

// NewTemplatePromptBuilder builds a TemplatePromptBuilder. byProject, if
// non-nil, maps a project name to the modes.Mode loaded for it (spec.md
// §6's modes/*.json); a project with no entry falls back to the built-in
// vocabulary and the plain templates below.
func NewTemplatePromptBuilder(byProject map[string]*modes.Mode) TemplatePromptBuilder {
	return TemplatePromptBuilder{modes: byProject}
}

// InitialPrompt opens a brand-new Session (spec.md §4.E step 1, first
// branch): there is no prior assistant turn, so the only context is the
// project and the user's opening request.
func (t TemplatePromptBuilder) InitialPrompt(session *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are observing a coding session for project %q.\n\n", session.Project)
	fmt.Fprintf(&b, "The developer's opening request:\n%s\n\n", session.UserPrompt)
	t.writeModeVocabulary(&b, session.Project)
	b.WriteString(responseFormatInstructions)
	return b.String()
}

// writeModeVocabulary appends the project's mode-defined observation-type
// and concept vocabulary, if one was loaded; absent a mode, the built-in
// vocabulary pkg/models.ObservationType already documents applies.
func (t TemplatePromptBuilder) writeModeVocabulary(b *strings.Builder, project string) {
	m := t.modes[project]
	if m == nil {
		return
	}
	if len(m.ObservationTypes) > 0 {
		fmt.Fprintf(b, "Preferred observation types for this project: %s\n", strings.Join(m.ObservationTypes, ", "))
	}
	if len(m.Concepts) > 0 {
		fmt.Fprintf(b, "Preferred concepts for this project: %s\n\n", strings.Join(m.Concepts, ", "))
	}
}

// ContinuationPrompt resumes a Session whose promptCounter already
// advanced past lastPromptNumber (spec.md §4.E step 1, second branch): a
// new UserPrompt round started before the previous one's tool activity
// finished draining.
func (t TemplatePromptBuilder) ContinuationPrompt(session *models.Session, lastPromptNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Continuing the observed session for project %q.\n", session.Project)
	fmt.Fprintf(&b, "The developer has moved on to prompt #%d; you were last at #%d.\n\n", session.PromptCounter, lastPromptNumber)
	t.writeModeVocabulary(&b, session.Project)
	b.WriteString(responseFormatInstructions)
	return b.String()
}

// MessagePrompt builds the per-round prompt for one dequeued
// PendingMessage (spec.md §4.E step 4): an observation round carries the
// originating tool call and its result; a summarize round carries the
// closing assistant message. history is the accumulated conversation so
// far, available for callers that want prior-round context; the default
// template only needs the message itself.
func (TemplatePromptBuilder) MessagePrompt(msg *models.PendingMessage, history []models.Message) string {
	var b strings.Builder
	switch msg.MessageType {
	case models.MessageSummarize:
		b.WriteString("The session is ending. Summarize it from the conversation so far.\n")
		if msg.LastAssistantMessage != nil {
			fmt.Fprintf(&b, "\nFinal assistant message:\n%s\n", *msg.LastAssistantMessage)
		}
	default:
		b.WriteString("A tool call occurred. Record any observations worth remembering.\n")
		if msg.ToolName != nil {
			fmt.Fprintf(&b, "\nTool: %s\n", *msg.ToolName)
		}
		if msg.ToolInput != nil {
			fmt.Fprintf(&b, "Input: %s\n", *msg.ToolInput)
		}
		if msg.ToolResponse != nil {
			fmt.Fprintf(&b, "Result: %s\n", *msg.ToolResponse)
		}
		if msg.Cwd != nil {
			fmt.Fprintf(&b, "Working directory: %s\n", *msg.Cwd)
		}
		if msg.LastUserMessage != nil {
			fmt.Fprintf(&b, "\nMost recent developer message:\n%s\n", *msg.LastUserMessage)
		}
	}
	b.WriteString("\n")
	b.WriteString(responseFormatInstructions)
	return b.String()
}
