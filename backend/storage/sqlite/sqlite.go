package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/adwski/projhub-signaling/backend/config"
	"github.com/adwski/projhub-signaling/backend/storage"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNilMessage = errors.New("nil message")
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type messageModel struct {
	ID        string    `gorm:"primaryKey"`
	ProjectID string    `gorm:"index:idx_project_ts,priority:1;not null"`
	Sender    string    `gorm:"not null"`
	Content   string    `gorm:"not null"`
	Timestamp time.Time `gorm:"index:idx_project_ts,priority:2"`
}

func (messageModel) TableName() string {
	return "messages"
}

func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&messageModel{})
}

// SaveMessage stores message, assigning id and timestamp when missing.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = storage.NewMessageID(msg.Timestamp)
	}
	model := messageModel{
		ID:        msg.ID,
		ProjectID: msg.ProjectID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListMessages returns project messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]storage.Message, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]storage.Message, 0, len(models))
	for _, m := range models {
		out = append(out, storage.Message{
			ID:        m.ID,
			ProjectID: m.ProjectID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}
