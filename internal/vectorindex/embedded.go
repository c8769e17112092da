package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// EmbeddedConfig configures the in-process vector backend.
type EmbeddedConfig struct {
	Path     string // defaults to :memory:
	Embedder Embedder
}

// EmbeddedBackend stores documents as BLOB-encoded float32 vectors in
// SQLite with cosine similarity computed in Go. Grounded on
// internal/memory/backend/sqlitevec/backend.go, extended from that file's
// flat "memories" table to the project/doc_type/field_type granular
// schema spec.md §4.B requires, and guarded by a per-collection mutex per
// spec.md §7's "the embedded variant MUST be guarded by a per-collection
// mutex."
type EmbeddedBackend struct {
	db       *sql.DB
	embedder Embedder
	mu       sync.Mutex
}

func NewEmbedded(ctx context.Context, cfg EmbeddedConfig) (*EmbeddedBackend, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open embedded store: %w", err)
	}
	b := &EmbeddedBackend{db: db, embedder: cfg.Embedder}
	if err := b.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *EmbeddedBackend) init(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vector_documents (
			id TEXT NOT NULL,
			project TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			field_type TEXT NOT NULL,
			sqlite_id INTEGER NOT NULL,
			memory_session_id TEXT,
			created_at_epoch INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB,
			PRIMARY KEY (project, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("vectorindex: create vector_documents: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_vector_documents_doctype ON vector_documents(project, doc_type)`)
	if err != nil {
		return fmt.Errorf("vectorindex: create index: %w", err)
	}
	return nil
}

func (b *EmbeddedBackend) EnsureCollection(ctx context.Context, project string) error {
	// A collection is just a project-scoped partition of one table; no
	// structural change is needed, mirroring the embedded backend's
	// always-present single table.
	return nil
}

func (b *EmbeddedBackend) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	var vectors [][]float32
	if b.embedder != nil {
		var err error
		vectors, err = b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("vectorindex: embed documents: %w", err)
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin add documents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vector_documents
			(id, project, doc_type, field_type, sqlite_id, memory_session_id, created_at_epoch, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("vectorindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		owning, err := ParseDocID(d.ID)
		if err != nil {
			return err
		}
		var embedding []byte
		if vectors != nil {
			embedding = encodeEmbedding(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Metadata["project"], d.Metadata["doc_type"],
			owning.FieldType, owning.SqliteID, d.Metadata["memory_session_id"],
			mustAtoi64(d.Metadata["created_at_epoch"]), d.Text, embedding); err != nil {
			return fmt.Errorf("vectorindex: insert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func mustAtoi64(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func (b *EmbeddedBackend) Query(ctx context.Context, project, queryText string, limit int, where map[string]string) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	var queryVec []float32
	if b.embedder != nil {
		var err error
		queryVec, err = b.embedder.Embed(ctx, queryText)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: embed query: %w", err)
		}
	}

	query := `SELECT id, doc_type, field_type, sqlite_id, memory_session_id, created_at_epoch, embedding FROM vector_documents WHERE project = ?`
	args := []any{project}
	if dt, ok := where["doc_type"]; ok {
		query += " AND doc_type = ?"
		args = append(args, dt)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, docType, fieldType, memSessionID string
		var sqliteID, createdAt int64
		var embeddingBlob []byte
		if err := rows.Scan(&id, &docType, &fieldType, &sqliteID, &memSessionID, &createdAt, &embeddingBlob); err != nil {
			return nil, fmt.Errorf("vectorindex: scan document: %w", err)
		}
		distance := 1.0
		if queryVec != nil {
			embedding := decodeEmbedding(embeddingBlob)
			distance = 1 - float64(cosineSimilarity(queryVec, embedding))
		}
		matches = append(matches, Match{
			DocID:    id,
			Distance: distance,
			Metadata: metadataFor(sqliteID, DocType(docType), memSessionID, project, createdAt, fieldType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (b *EmbeddedBackend) ListDocumentIDs(ctx context.Context, project string, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM vector_documents WHERE project = ? LIMIT ?`, project, pageSize)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vectorindex: scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *EmbeddedBackend) Close() error {
	return b.db.Close()
}

// encodeEmbedding converts []float32 to bytes, grounded on
// sqlitevec/backend.go's IEEE-754-bits encoding.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
