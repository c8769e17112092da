package models

// ObservationType is the closed vocabulary of compressed facts the LLM may
// report. The vocabulary itself is extensible via mode definitions (see
// internal/modes) but these are the built-in defaults.
type ObservationType string

const (
	ObservationDecision  ObservationType = "decision"
	ObservationBugfix    ObservationType = "bugfix"
	ObservationFeature   ObservationType = "feature"
	ObservationRefactor  ObservationType = "refactor"
	ObservationDiscovery ObservationType = "discovery"
	ObservationChange    ObservationType = "change"
)

// Visibility is the access-control tier for an Observation or SessionSummary.
type Visibility string

const (
	VisibilityPrivate    Visibility = "private"
	VisibilityDepartment Visibility = "department"
	VisibilityProject    Visibility = "project"
	VisibilityPublic     Visibility = "public"
)

// DefaultVisibility is applied when the LLM response omits visibility.
const DefaultVisibility = VisibilityProject

// DefaultAgent is the creator id assigned when no agent context is present
// (legacy ingest, bootstrap mode).
const DefaultAgent = "legacy"

// DefaultDepartment is the department assigned when none is configured.
const DefaultDepartment = "default"

// ValidVisibility reports whether v is one of the four allowed literals.
func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPrivate, VisibilityDepartment, VisibilityProject, VisibilityPublic:
		return true
	default:
		return false
	}
}

// Observation is a compressed fact or decision extracted from one tool-use
// event by the LLM and parsed by the ResponseProcessor.
type Observation struct {
	ID              int64
	MemorySessionID string
	Project         string
	Type            ObservationType
	Title           string
	Subtitle        *string
	Narrative       string
	Facts           []string
	Concepts        []string
	FilesRead       []string
	FilesModified   []string
	PromptNumber    *int
	DiscoveryTokens int
	CreatedAtEpoch  int64
	BeadID          *string

	Agent      string
	Department string
	Visibility Visibility
}

// SessionSummary is a session-level rollup; multiple may exist per session
// as periodic checkpoints (see SPEC_FULL.md's Open Question decision).
type SessionSummary struct {
	ID              int64
	MemorySessionID string
	Project         string
	Request         *string
	Investigated    *string
	Learned         *string
	Completed       *string
	NextSteps       *string
	Notes           *string
	CreatedAtEpoch  int64

	Agent      string
	Department string
	Visibility Visibility
}
