package respproc

import (
	"testing"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

func baseCtx() ParseContext {
	return ParseContext{
		MemorySessionID: "mem-1",
		Project:         "example.com/o/r",
		NowEpoch:        1000,
	}
}

func TestParseSingleObservationWithDefaults(t *testing.T) {
	text := `<memory><observation type="discovery"><title>T</title><narrative>N</narrative><fact>f1</fact></observation></memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(result.Observations))
	}
	obs := result.Observations[0]
	if obs.Title != "T" || obs.Narrative != "N" {
		t.Fatalf("unexpected observation: %+v", obs)
	}
	if len(obs.Facts) != 1 || obs.Facts[0] != "f1" {
		t.Fatalf("unexpected facts: %+v", obs.Facts)
	}
	if obs.Visibility != models.DefaultVisibility {
		t.Errorf("visibility = %q, want default %q", obs.Visibility, models.DefaultVisibility)
	}
	if obs.Agent != models.DefaultAgent {
		t.Errorf("agent = %q, want default %q", obs.Agent, models.DefaultAgent)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestParseMultipleObservationsAndFacts(t *testing.T) {
	text := `<memory>
		<observation type="bugfix"><title>A</title><narrative>NA</narrative><fact>fa1</fact><fact>fa2</fact><concept>auth</concept></observation>
		<observation type="feature"><title>B</title><subtitle>sub</subtitle><narrative>NB</narrative><file_read>a.go</file_read><file_modified>b.go</file_modified></observation>
	</memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(result.Observations))
	}
	a, b := result.Observations[0], result.Observations[1]
	if a.Type != models.ObservationBugfix || len(a.Facts) != 2 {
		t.Fatalf("unexpected first observation: %+v", a)
	}
	if b.Subtitle == nil || *b.Subtitle != "sub" {
		t.Fatalf("expected subtitle to be parsed, got %+v", b)
	}
	if len(b.FilesRead) != 1 || b.FilesRead[0] != "a.go" {
		t.Fatalf("unexpected files read: %+v", b.FilesRead)
	}
	if len(b.FilesModified) != 1 || b.FilesModified[0] != "b.go" {
		t.Fatalf("unexpected files modified: %+v", b.FilesModified)
	}
}

func TestParseSkipsObservationMissingTitle(t *testing.T) {
	text := `<memory><observation type="discovery"><narrative>N</narrative></observation></memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 0 {
		t.Fatalf("expected the malformed observation to be skipped, got %+v", result.Observations)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", result.Warnings)
	}
}

func TestParseSkipsObservationMissingNarrative(t *testing.T) {
	text := `<memory><observation type="discovery"><title>T</title></observation></memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 0 {
		t.Fatalf("expected the malformed observation to be skipped, got %+v", result.Observations)
	}
}

func TestParseOneMalformedObservationDoesNotAbortBatch(t *testing.T) {
	text := `<memory>
		<observation type="discovery"><narrative>no title here</narrative></observation>
		<observation type="feature"><title>Good</title><narrative>fine</narrative></observation>
	</memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 1 || result.Observations[0].Title != "Good" {
		t.Fatalf("expected the well-formed observation to survive, got %+v", result.Observations)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning for the malformed sibling, got %v", result.Warnings)
	}
}

func TestParsePrivateContentNeverSurfaces(t *testing.T) {
	text := `<private>do not persist this</private><memory><observation type="discovery"><title>T</title><narrative>N</narrative></observation></memory>`
	result := Parse(text, baseCtx())

	if len(result.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(result.Observations))
	}
	for _, obs := range result.Observations {
		if obs.Title == "do not persist this" || obs.Narrative == "do not persist this" {
			t.Fatalf("private content leaked into an observation: %+v", obs)
		}
	}
}

func TestParseSummaryWithSubsetOfFields(t *testing.T) {
	text := `<summary><request>do X</request><learned>Y works</learned></summary>`
	result := Parse(text, baseCtx())

	if result.Summary == nil {
		t.Fatalf("expected a summary")
	}
	if result.Summary.Request == nil || *result.Summary.Request != "do X" {
		t.Fatalf("unexpected request field: %+v", result.Summary.Request)
	}
	if result.Summary.Learned == nil || *result.Summary.Learned != "Y works" {
		t.Fatalf("unexpected learned field: %+v", result.Summary.Learned)
	}
	if result.Summary.Investigated != nil {
		t.Errorf("expected investigated to be nil when absent, got %v", *result.Summary.Investigated)
	}
}

func TestParseNoSummaryTagYieldsNilSummary(t *testing.T) {
	text := `<memory><observation type="discovery"><title>T</title><narrative>N</narrative></observation></memory>`
	result := Parse(text, baseCtx())
	if result.Summary != nil {
		t.Errorf("expected no summary, got %+v", result.Summary)
	}
}
