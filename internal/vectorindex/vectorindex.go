// Package vectorindex is the VectorIndex component (SPEC_FULL.md §4.B): an
// adapter over a vector database, embedded or HTTP, that denormalizes Store
// rows into granular documents for semantic retrieval.
package vectorindex

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// DocType classifies the Store entity a document was derived from.
type DocType string

const (
	DocObservation    DocType = "observation"
	DocSessionSummary DocType = "session_summary"
	DocUserPrompt     DocType = "user_prompt"
)

// Document is the unit addressed, embedded, and stored by a Backend.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Match is one hit returned by a similarity query. Distance is
// cosine-space: lower means closer.
type Match struct {
	DocID    string
	Distance float64
	Metadata map[string]string
}

// Backend is the contract both the embedded and HTTP vector stores
// implement (spec.md §4.B's five operations).
type Backend interface {
	EnsureCollection(ctx context.Context, project string) error
	AddDocuments(ctx context.Context, docs []Document) error
	Query(ctx context.Context, project, queryText string, limit int, where map[string]string) ([]Match, error)
	ListDocumentIDs(ctx context.Context, project string, pageSize int) ([]string, error)
	Close() error
}

func collectionName(project string) string {
	return "cm__" + project
}

// metadataFor builds the metadata object every document carries (spec.md
// §4.B: "Metadata always includes...").
func metadataFor(sqliteID int64, docType DocType, memorySessionID, project string, createdAtEpoch int64, fieldType string) map[string]string {
	return map[string]string{
		"sqlite_id":         strconv.FormatInt(sqliteID, 10),
		"doc_type":          string(docType),
		"memory_session_id": memorySessionID,
		"project":           project,
		"created_at_epoch":  strconv.FormatInt(createdAtEpoch, 10),
		"field_type":        fieldType,
	}
}

// DocumentsForObservation yields one doc for narrative (if present), one
// per fact, per spec.md §4.B's granular document formation.
func DocumentsForObservation(o *models.Observation) []Document {
	var docs []Document
	if o.Narrative != "" {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("obs_%d_narrative", o.ID),
			Text:     o.Narrative,
			Metadata: metadataFor(o.ID, DocObservation, o.MemorySessionID, o.Project, o.CreatedAtEpoch, "narrative"),
		})
	}
	for i, fact := range o.Facts {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("obs_%d_fact_%d", o.ID, i),
			Text:     fact,
			Metadata: metadataFor(o.ID, DocObservation, o.MemorySessionID, o.Project, o.CreatedAtEpoch, "fact"),
		})
	}
	return docs
}

// DocumentsForSummary yields one doc per non-empty field.
func DocumentsForSummary(s *models.SessionSummary) []Document {
	fields := []struct {
		fieldType string
		value     *string
	}{
		{"request", s.Request},
		{"investigated", s.Investigated},
		{"learned", s.Learned},
		{"completed", s.Completed},
		{"next_steps", s.NextSteps},
		{"notes", s.Notes},
	}
	var docs []Document
	for _, f := range fields {
		if f.value == nil || *f.value == "" {
			continue
		}
		docs = append(docs, Document{
			ID:       fmt.Sprintf("summary_%d_%s", s.ID, f.fieldType),
			Text:     *f.value,
			Metadata: metadataFor(s.ID, DocSessionSummary, s.MemorySessionID, s.Project, s.CreatedAtEpoch, f.fieldType),
		})
	}
	return docs
}

// DocumentForUserPrompt yields the single doc a prompt contributes.
func DocumentForUserPrompt(p *models.UserPrompt, project string) Document {
	return Document{
		ID:   fmt.Sprintf("prompt_%d", p.ID),
		Text: p.PromptText,
		Metadata: map[string]string{
			"sqlite_id":        strconv.FormatInt(p.ID, 10),
			"doc_type":         string(DocUserPrompt),
			"project":          project,
			"created_at_epoch": strconv.FormatInt(p.CreatedAtEpoch, 10),
			"field_type":       "prompt",
		},
	}
}

var docIDPattern = regexp.MustCompile(`^(obs|summary|prompt)_(\d+)(?:_([a-z_]+?)(?:_(\d+))?)?$`)

// OwningRow recovers the Store row a document id was derived from, by
// regex on the id (spec.md §4.B: "From any returned docId, the owning
// Store row is recovered by regex on the id").
type OwningRow struct {
	DocType   DocType
	SqliteID  int64
	FieldType string
	FactIndex int // -1 when not a fact document
}

func ParseDocID(id string) (OwningRow, error) {
	m := docIDPattern.FindStringSubmatch(id)
	if m == nil {
		return OwningRow{}, fmt.Errorf("vectorindex: unrecognized document id %q", id)
	}
	var docType DocType
	switch m[1] {
	case "obs":
		docType = DocObservation
	case "summary":
		docType = DocSessionSummary
	case "prompt":
		docType = DocUserPrompt
	}
	sqliteID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return OwningRow{}, fmt.Errorf("vectorindex: invalid sqlite id in %q: %w", id, err)
	}
	factIndex := -1
	if m[4] != "" {
		factIndex, _ = strconv.Atoi(m[4])
	}
	return OwningRow{DocType: docType, SqliteID: sqliteID, FieldType: m[3], FactIndex: factIndex}, nil
}
