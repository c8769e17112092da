package vectorindex

import (
	"testing"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

func TestDocumentsForObservation(t *testing.T) {
	o := &models.Observation{
		ID: 42, Project: "p", MemorySessionID: "m", CreatedAtEpoch: 100,
		Narrative: "did a thing", Facts: []string{"fact one", "fact two"},
	}
	docs := DocumentsForObservation(o)
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs (1 narrative + 2 facts), got %d", len(docs))
	}
	if docs[0].ID != "obs_42_narrative" {
		t.Fatalf("unexpected narrative doc id: %s", docs[0].ID)
	}
	if docs[1].ID != "obs_42_fact_0" || docs[2].ID != "obs_42_fact_1" {
		t.Fatalf("unexpected fact doc ids: %s, %s", docs[1].ID, docs[2].ID)
	}
}

func TestDocumentsForObservationNoNarrative(t *testing.T) {
	o := &models.Observation{ID: 5, Project: "p", Facts: []string{"only fact"}}
	docs := DocumentsForObservation(o)
	if len(docs) != 1 || docs[0].ID != "obs_5_fact_0" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestDocumentsForSummarySkipsEmptyFields(t *testing.T) {
	req := "what happened"
	s := &models.SessionSummary{ID: 7, Request: &req}
	docs := DocumentsForSummary(s)
	if len(docs) != 1 || docs[0].ID != "summary_7_request" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestParseDocIDRoundTrip(t *testing.T) {
	cases := []struct {
		id        string
		docType   DocType
		sqliteID  int64
		fieldType string
		factIndex int
	}{
		{"obs_42_narrative", DocObservation, 42, "narrative", -1},
		{"obs_42_fact_3", DocObservation, 42, "fact", 3},
		{"summary_7_request", DocSessionSummary, 7, "request", -1},
		{"prompt_9", DocUserPrompt, 9, "", -1},
	}
	for _, c := range cases {
		got, err := ParseDocID(c.id)
		if err != nil {
			t.Fatalf("parse %q: %v", c.id, err)
		}
		if got.DocType != c.docType || got.SqliteID != c.sqliteID || got.FieldType != c.fieldType || got.FactIndex != c.factIndex {
			t.Fatalf("parse %q: got %+v", c.id, got)
		}
	}
}

func TestParseDocIDInvalid(t *testing.T) {
	if _, err := ParseDocID("not-a-doc-id"); err == nil {
		t.Fatalf("expected error for malformed id")
	}
}

