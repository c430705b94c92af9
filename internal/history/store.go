// Package history persists finished conversations so a session can be
// resumed later. Conversations are stored as opaque JSON turn blobs; the
// store never interprets turn contents beyond title and preview extraction.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/moshengai/dubbing-gateway/internal/conversation"
)

// ErrNotFound is returned when a conversation ID has no stored record.
var ErrNotFound = errors.New("conversation not found")

const (
	titleMaxRunes   = 25
	previewMaxRunes = 50
)

// Record is one saved conversation row.
type Record struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Turns     []byte    `gorm:"type:blob" json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the list view of a record, without the turn blob.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a capped sqlite-backed conversation archive. When the cap is
// exceeded the oldest records are dropped.
type Store struct {
	db    *gorm.DB
	limit int
}

// Open creates the store, migrating the schema. An empty dsn uses an
// in-memory database.
func Open(dsn string, limit int) (*Store, error) {
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Store{db: db, limit: limit}, nil
}

// Save upserts a conversation under the given ID and prunes beyond the cap.
// Conversations with no turns are not saved.
func (s *Store) Save(id string, turns []conversation.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	blob, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encoding turns: %w", err)
	}

	rec := Record{
		ID:        id,
		Title:     deriveTitle(turns),
		Preview:   derivePreview(turns),
		Turns:     blob,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return s.prune()
}

// List returns summaries of all saved conversations, newest first.
func (s *Store) List() ([]Summary, error) {
	var recs []Record
	if err := s.db.Order("updated_at desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out := make([]Summary, len(recs))
	for i, r := range recs {
		out[i] = Summary{ID: r.ID, Title: r.Title, Preview: r.Preview, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

// Get loads one conversation's turns by ID.
func (s *Store) Get(id string) ([]conversation.Turn, error) {
	var rec Record
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	var turns []conversation.Turn
	if err := json.Unmarshal(rec.Turns, &turns); err != nil {
		return nil, fmt.Errorf("decoding turns: %w", err)
	}
	return turns, nil
}

// Delete removes one conversation. Deleting an unknown ID is not an error.
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(&Record{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// Count returns the number of saved conversations.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the database answers a trivial query.
func (s *Store) HealthCheck() error {
	_, err := s.Count()
	return err
}

// prune deletes the oldest records beyond the cap.
func (s *Store) prune() error {
	if s.limit <= 0 {
		return nil
	}
	n, err := s.Count()
	if err != nil {
		return err
	}
	if n <= int64(s.limit) {
		return nil
	}

	var victims []Record
	if err := s.db.Select("id").Order("updated_at asc").
		Limit(int(n) - s.limit).Find(&victims).Error; err != nil {
		return fmt.Errorf("finding prune victims: %w", err)
	}
	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	if err := s.db.Delete(&Record{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("pruning conversations: %w", err)
	}
	return nil
}

// deriveTitle takes the first user turn's text, truncated.
func deriveTitle(turns []conversation.Turn) string {
	for _, t := range turns {
		if t.Author == conversation.AuthorUser && strings.TrimSpace(t.Text) != "" {
			return truncateRunes(strings.TrimSpace(t.Text), titleMaxRunes)
		}
	}
	return "未命名对话"
}

// derivePreview takes the last turn's display text, truncated.
func derivePreview(turns []conversation.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		text := strings.TrimSpace(turns[i].DisplayText)
		if text != "" {
			return truncateRunes(text, previewMaxRunes)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
