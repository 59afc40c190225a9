package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// GraphQuerier runs a read query and returns each record as a map.
type GraphQuerier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Neo4jConfig configures the Neo4j knowledge graph connection.
type Neo4jConfig struct {
	URI           string        `yaml:"uri" json:"uri" env:"URI"`
	Username      string        `yaml:"username" json:"username" env:"USERNAME"`
	Password      string        `yaml:"password" json:"password" env:"PASSWORD"`
	Database      string        `yaml:"database" json:"database" env:"DATABASE"`
	FulltextIndex string        `yaml:"fulltext_index" json:"fulltext_index" env:"FULLTEXT_INDEX"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// Neo4jQuerier executes Cypher through the official driver.
type Neo4jQuerier struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jQuerier connects and verifies connectivity.
func NewNeo4jQuerier(ctx context.Context, cfg Neo4jConfig) (*Neo4jQuerier, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect neo4j %s: %w", cfg.URI, err)
	}
	return &Neo4jQuerier{driver: driver, database: cfg.Database}, nil
}

func (q *Neo4jQuerier) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if q.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(q.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, q.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		rows = append(rows, rec.AsMap())
	}
	return rows, nil
}

// Close releases the driver.
func (q *Neo4jQuerier) Close(ctx context.Context) error {
	return q.driver.Close(ctx)
}

const graphFulltextQuery = `
CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
OPTIONAL MATCH (node)-[r]-(m)
WITH node, score, collect(DISTINCT type(r) + ' ' + coalesce(m.name, m.title, ''))[..$relations] AS relations
RETURN elementId(node) AS id,
       coalesce(node.name, node.title, '') AS name,
       coalesce(node.description, node.text, node.summary, '') AS description,
       labels(node) AS labels,
       relations,
       score
ORDER BY score DESC
LIMIT $limit`

// GraphSource retrieves entities and their neighbourhood from a knowledge
// graph full-text index. It satisfies Retriever.
type GraphSource struct {
	querier    GraphQuerier
	index      string
	relations  int
	normalizer *QueryNormalizer
	logger     *zap.Logger
}

// NewGraphSource builds a graph source over a full-text index.
func NewGraphSource(querier GraphQuerier, index string, logger *zap.Logger) *GraphSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if index == "" {
		index = "medical_entities"
	}
	return &GraphSource{
		querier:    querier,
		index:      index,
		relations:  5,
		normalizer: NewQueryNormalizer(),
		logger:     logger.With(zap.String("component", "graph_source")),
	}
}

func (g *GraphSource) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedDocument, error) {
	// The cleaned form carries no Lucene syntax characters.
	cleaned := g.normalizer.Clean(query)
	if cleaned == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	rows, err := g.querier.Query(ctx, graphFulltextQuery, map[string]any{
		"index":     g.index,
		"query":     cleaned,
		"limit":     topK,
		"relations": g.relations,
	})
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}

	top := 0.0
	for _, row := range rows {
		if s := rowFloat(row, "score"); s > top {
			top = s
		}
	}

	docs := make([]RetrievedDocument, 0, len(rows))
	for _, row := range rows {
		d, ok := graphRowToDocument(row, top)
		if ok {
			docs = append(docs, d)
		}
	}
	sortByScore(docs)
	g.logger.Debug("graph retrieval", zap.Int("rows", len(rows)), zap.Int("docs", len(docs)))
	return docs, nil
}

func graphRowToDocument(row map[string]any, top float64) (RetrievedDocument, bool) {
	id := rowString(row, "id")
	name := rowString(row, "name")
	desc := rowString(row, "description")
	if id == "" || (name == "" && desc == "") {
		return RetrievedDocument{}, false
	}

	var sb strings.Builder
	sb.WriteString(name)
	if desc != "" {
		if name != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(desc)
	}
	relations := rowStrings(row, "relations")
	if len(relations) > 0 {
		sb.WriteString(" Related: ")
		sb.WriteString(strings.Join(relations, "; "))
		sb.WriteString(".")
	}

	score := rowFloat(row, "score")
	if top > 0 {
		score /= top
	}
	return RetrievedDocument{
		ID:      "graph_" + id,
		Content: sb.String(),
		Metadata: map[string]any{
			MetaID:     id,
			MetaSource: "knowledge_graph",
			MetaName:   name,
			"labels":   strings.Join(rowStrings(row, "labels"), ","),
		},
		Score:  clamp01(score),
		Source: SourceGraph,
	}, true
}

func rowString(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return strings.TrimSpace(s)
}

func rowFloat(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func rowStrings(row map[string]any, key string) []string {
	raw, _ := row[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// StubGraphSource is the graph source used when no graph is configured.
type StubGraphSource struct{}

func (StubGraphSource) Retrieve(context.Context, string, int) ([]RetrievedDocument, error) {
	return nil, nil
}
