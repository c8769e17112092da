package vectorindex

import (
	"context"
	"strings"
	"testing"
)

// hashEmbedder is a deterministic, network-free stand-in for a real
// embedding provider: texts that share a prefix word produce closer
// vectors, enough to exercise ranking without calling out to a model.
type hashEmbedder struct{}

func (hashEmbedder) Name() string     { return "hash" }
func (hashEmbedder) Dimension() int   { return 4 }
func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	var v [4]float32
	for i, w := range strings.Fields(text) {
		v[i%4] += float32(len(w))
	}
	return v[:], nil
}
func (h hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := h.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func TestEmbeddedBackendAddAndQuery(t *testing.T) {
	ctx := context.Background()
	b, err := NewEmbedded(ctx, EmbeddedConfig{Path: ":memory:", Embedder: hashEmbedder{}})
	if err != nil {
		t.Fatalf("new embedded backend: %v", err)
	}
	defer b.Close()

	if err := b.EnsureCollection(ctx, "proj"); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	docs := []Document{
		{ID: "obs_1_narrative", Text: "refactored the authentication middleware", Metadata: metadataFor(1, DocObservation, "m1", "proj", 100, "narrative")},
		{ID: "obs_2_narrative", Text: "fixed a flaky test in the scheduler", Metadata: metadataFor(2, DocObservation, "m1", "proj", 100, "narrative")},
	}
	if err := b.AddDocuments(ctx, docs); err != nil {
		t.Fatalf("add documents: %v", err)
	}

	matches, err := b.Query(ctx, "proj", "authentication middleware refactor", 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].DocID != "obs_1_narrative" {
		t.Fatalf("expected closest match to be obs_1_narrative, got %s", matches[0].DocID)
	}

	ids, err := b.ListDocumentIDs(ctx, "proj", 0)
	if err != nil {
		t.Fatalf("list document ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 document ids, got %d", len(ids))
	}
}

func TestEmbeddedBackendScopedByProject(t *testing.T) {
	ctx := context.Background()
	b, err := NewEmbedded(ctx, EmbeddedConfig{Path: ":memory:", Embedder: hashEmbedder{}})
	if err != nil {
		t.Fatalf("new embedded backend: %v", err)
	}
	defer b.Close()

	if err := b.AddDocuments(ctx, []Document{
		{ID: "obs_1_narrative", Text: "x", Metadata: metadataFor(1, DocObservation, "m", "a", 1, "narrative")},
		{ID: "obs_2_narrative", Text: "y", Metadata: metadataFor(2, DocObservation, "m", "b", 1, "narrative")},
	}); err != nil {
		t.Fatalf("add documents: %v", err)
	}

	ids, err := b.ListDocumentIDs(ctx, "a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "obs_1_narrative" {
		t.Fatalf("expected project-scoped listing, got %v", ids)
	}
}

func TestEncodeDecodeEmbeddingRoundTrip(t *testing.T) {
	original := []float32{0.5, -1.25, 3.0, 0.0}
	decoded := decodeEmbedding(encodeEmbedding(original))
	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("index %d: got %v want %v", i, decoded[i], original[i])
		}
	}
}
