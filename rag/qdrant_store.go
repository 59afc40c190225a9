package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/9046balaji/Heart-sub001/llm/retry"
)

// QdrantConfig configures the Qdrant REST store. Point IDs are UUIDs
// derived from document IDs; the original ID lives in the payload.
type QdrantConfig struct {
	BaseURL              string        `yaml:"base_url" json:"base_url"`
	APIKey               string        `yaml:"api_key" json:"api_key,omitempty"`
	Collection           string        `yaml:"collection" json:"collection"`
	Timeout              time.Duration `yaml:"timeout" json:"timeout"`
	AutoCreateCollection bool          `yaml:"auto_create_collection" json:"auto_create_collection"`
	// Distance is Cosine, Dot, Euclid or Manhattan.
	Distance   string       `yaml:"distance" json:"distance"`
	VectorSize int          `yaml:"vector_size" json:"vector_size"`
	Retry      retry.Policy `yaml:"retry" json:"retry"`
}

// QdrantStore implements VectorStore over Qdrant's REST API.
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore creates the store. No request is made until first use.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(cfg.Retry, logger),
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("6f1c2a7e-9b54-4d0e-a3c1-2e8f5b7d9a40")

func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

const (
	payloadDocID    = "doc_id"
	payloadContent  = "content"
	payloadMetadata = "metadata"
)

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{"size": vectorSize, "distance": s.cfg.Distance},
		}
		err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		// 409 means the collection already exists.
		var se *qdrantStatusError
		if errors.As(err, &se) && se.status == http.StatusConflict {
			err = nil
		}
		s.ensureErr = err
	})
	return s.ensureErr
}

type qdrantStatusError struct {
	method, path string
	status       int
	body         string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.method, e.path, e.status, e.body)
}

// doJSON sends one request with retries. 4xx responses are not retried.
func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		payload = b
	}

	return s.retryer.Do(ctx, "qdrant "+path, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.APIKey != "" {
			req.Header.Set("api-key", s.cfg.APIKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			se := &qdrantStatusError{method: method, path: path, status: resp.StatusCode, body: string(raw)}
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(se)
			}
			return se
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode qdrant response: %w", err))
		}
		return nil
	})
}

func (s *QdrantStore) requireCollection() error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, docs []VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.requireCollection(); err != nil {
		return err
	}

	size := s.cfg.VectorSize
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		if size == 0 {
			size = len(d.Embedding)
		}
		if len(d.Embedding) != size {
			return fmt.Errorf("document %s: embedding dimension %d, want %d", d.ID, len(d.Embedding), size)
		}
	}
	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(docs))
	for _, d := range docs {
		points = append(points, point{
			ID:     qdrantPointID(d.ID),
			Vector: d.Embedding,
			Payload: map[string]any{
				payloadDocID:    d.ID,
				payloadContent:  d.Content,
				payloadMetadata: d.Metadata,
			},
		})
	}
	body := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return err
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Search converts Qdrant scores to similarities in [0,1]: cosine and dot
// scores are clamped, distance metrics map through 1/(1+d).
func (s *QdrantStore) Search(ctx context.Context, embedding []float64, topK int) ([]VectorHit, error) {
	if err := s.requireCollection(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	if topK <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	hits := make([]VectorHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		doc := VectorDocument{}
		if v, ok := r.Payload[payloadDocID].(string); ok {
			doc.ID = v
		}
		if v, ok := r.Payload[payloadContent].(string); ok {
			doc.Content = v
		}
		if v, ok := r.Payload[payloadMetadata].(map[string]any); ok {
			doc.Metadata = v
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprint(r.ID)
		}
		hits = append(hits, VectorHit{Document: doc, Score: s.similarity(r.Score)})
	}
	return hits, nil
}

func (s *QdrantStore) similarity(raw float64) float64 {
	switch strings.ToLower(s.cfg.Distance) {
	case "euclid", "manhattan":
		if raw < 0 {
			raw = 0
		}
		return 1 / (1 + raw)
	default:
		return clamp01(raw)
	}
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.requireCollection(); err != nil {
		return err
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			points = append(points, qdrantPointID(id))
		}
	}
	return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": points}, nil)
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	if err := s.requireCollection(); err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}
