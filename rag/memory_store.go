package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MemoryRecord is one remembered fact about a user.
type MemoryRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:128;not null;index:idx_memory_user" json:"user_id"`
	Kind      string    `gorm:"size:32;default:note" json:"kind"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_memory_user" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MemoryRecord) TableName() string { return "user_memories" }

// MemoryStoreConfig configures SQLMemoryStore.
type MemoryStoreConfig struct {
	// ScanLimit bounds how many recent rows are scored per recall.
	ScanLimit int     `yaml:"scan_limit" json:"scan_limit"`
	MinScore  float64 `yaml:"min_score" json:"min_score"`
}

// DefaultMemoryStoreConfig returns the default recall settings.
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{ScanLimit: 200, MinScore: 0.1}
}

// SQLMemoryStore keeps per-user memories in a SQL table and recalls them by
// content relevance. It satisfies MemorySource.
type SQLMemoryStore struct {
	db     *gorm.DB
	scorer *SourceScorer
	config MemoryStoreConfig
	logger *zap.Logger
}

// NewSQLMemoryStore wraps db. Call Migrate before first use.
func NewSQLMemoryStore(db *gorm.DB, config MemoryStoreConfig, logger *zap.Logger) *SQLMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = DefaultMemoryStoreConfig().ScanLimit
	}
	return &SQLMemoryStore{
		db:     db,
		scorer: NewSourceScorer(nil),
		config: config,
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

// Migrate creates or updates the memory table.
func (s *SQLMemoryStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&MemoryRecord{}); err != nil {
		return fmt.Errorf("failed to migrate memory table: %w", err)
	}
	return nil
}

// Remember stores a memory for the user.
func (s *SQLMemoryStore) Remember(ctx context.Context, userID, kind, content string) (*MemoryRecord, error) {
	userID = strings.TrimSpace(userID)
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return nil, fmt.Errorf("memory requires user id and content")
	}
	if kind == "" {
		kind = "note"
	}
	rec := &MemoryRecord{UserID: userID, Kind: kind, Content: content}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}
	return rec, nil
}

// Forget deletes all memories of the user and returns how many were removed.
func (s *SQLMemoryStore) Forget(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&MemoryRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recall scores the user's most recent memories against the query and
// returns the best topK above MinScore.
func (s *SQLMemoryStore) Recall(ctx context.Context, userID, query string, topK int) ([]RetrievedDocument, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	var rows []MemoryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(s.config.ScanLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}

	docs := make([]RetrievedDocument, 0, len(rows))
	for _, r := range rows {
		score := s.scorer.ContentRelevance(r.Content, query)
		if score < s.config.MinScore {
			continue
		}
		docs = append(docs, RetrievedDocument{
			ID:      "memory_" + strconv.FormatUint(uint64(r.ID), 10),
			Content: r.Content,
			Metadata: map[string]any{
				MetaSource:   "user_memory",
				MetaName:     r.Kind,
				"user_id":    r.UserID,
				"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
			},
			Score:  score,
			Source: SourceMemory,
		})
	}
	sortByScore(docs)
	if len(docs) > topK {
		docs = docs[:topK]
	}

	s.logger.Debug("memory recall",
		zap.String("user_id", userID),
		zap.Int("scanned", len(rows)),
		zap.Int("returned", len(docs)))
	return docs, nil
}
