package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the original, non-UUID document id so it can be
// recovered from a query hit. Qdrant point ids must be UUIDs or positive
// integers; spec.md's doc ids (obs_42_fact_0, ...) are neither.
const payloadIDField = "_original_id"

// HTTPConfig configures the networked vector backend.
type HTTPConfig struct {
	DSN       string // e.g. "http://localhost:6334?api_key=..."
	Dimension int
	Embedder  Embedder
	Metric    string // cosine|l2|ip (default cosine)
}

// HTTPBackend is a deliberate substitution for spec.md §6's literal
// Chroma-style REST wire description, grounded on
// intelligencedev-manifold's internal/persistence/databases/qdrant_vector.go
// — the closest already-integrated networked vector database in the
// example corpus. It translates the spec's logical operations onto
// qdrant's CreateCollection/Upsert/Query/Scroll RPCs.
type HTTPBackend struct {
	client    *qdrant.Client
	dimension int
	metric    string
	embedder  Embedder
}

func NewHTTP(ctx context.Context, cfg HTTPConfig) (*HTTPBackend, error) {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: invalid port in qdrant dsn: %w", err)
	}

	qcfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create qdrant client: %w", err)
	}

	dimension := cfg.Dimension
	if dimension == 0 && cfg.Embedder != nil {
		dimension = cfg.Embedder.Dimension()
	}
	return &HTTPBackend{
		client:    client,
		dimension: dimension,
		metric:    cfg.Metric,
		embedder:  cfg.Embedder,
	}, nil
}

func (h *HTTPBackend) EnsureCollection(ctx context.Context, project string) error {
	name := collectionName(project)
	exists, err := h.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorindex: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if h.dimension <= 0 {
		return fmt.Errorf("vectorindex: qdrant requires dimension > 0")
	}
	distance := qdrant.Distance_Cosine
	switch h.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	}
	err = h.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(h.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection: %w", err)
	}
	return nil
}

func docPointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (h *HTTPBackend) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if h.embedder == nil {
		return fmt.Errorf("vectorindex: http backend requires an embedder to add documents")
	}

	byProject := map[string][]Document{}
	for _, d := range docs {
		byProject[d.Metadata["project"]] = append(byProject[d.Metadata["project"]], d)
	}

	for project, projectDocs := range byProject {
		texts := make([]string, len(projectDocs))
		for i, d := range projectDocs {
			texts[i] = d.Text
		}
		vectors, err := h.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("vectorindex: embed documents: %w", err)
		}

		points := make([]*qdrant.PointStruct, len(projectDocs))
		for i, d := range projectDocs {
			uuidStr := docPointID(d.ID)
			payload := map[string]any{}
			for k, v := range d.Metadata {
				payload[k] = v
			}
			payload["text"] = d.Text
			if uuidStr != d.ID {
				payload[payloadIDField] = d.ID
			}
			vec := make([]float32, len(vectors[i]))
			copy(vec, vectors[i])
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(uuidStr),
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: qdrant.NewValueMap(payload),
			}
		}
		if _, err := h.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collectionName(project),
			Points:         points,
		}); err != nil {
			return fmt.Errorf("vectorindex: upsert documents: %w", err)
		}
	}
	return nil
}

func (h *HTTPBackend) Query(ctx context.Context, project, queryText string, limit int, where map[string]string) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	if h.embedder == nil {
		return nil, fmt.Errorf("vectorindex: http backend requires an embedder to query")
	}
	vec, err := h.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}

	var filter *qdrant.Filter
	if len(where) > 0 {
		must := make([]*qdrant.Condition, 0, len(where))
		for k, v := range where {
			must = append(must, qdrant.NewMatch(k, v))
		}
		filter = &qdrant.Filter{Must: must}
	}

	lim := uint64(limit)
	hits, err := h.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(project),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		metadata := map[string]string{}
		var originalID string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				if k == "text" {
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		docID := originalID
		if docID == "" {
			docID = hit.Id.GetUuid()
		}
		matches = append(matches, Match{
			DocID:    docID,
			Distance: 1 - float64(hit.Score),
			Metadata: metadata,
		})
	}
	return matches, nil
}

func (h *HTTPBackend) ListDocumentIDs(ctx context.Context, project string, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	limit := uint32(pageSize)
	points, err := h.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collectionName(project),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: scroll collection: %w", err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		if p.Payload != nil {
			if v, ok := p.Payload[payloadIDField]; ok {
				ids = append(ids, v.GetStringValue())
				continue
			}
		}
		ids = append(ids, p.Id.GetUuid())
	}
	return ids, nil
}

func (h *HTTPBackend) Close() error {
	return h.client.Close()
}
