package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is the archived form of one emitted market event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	AssetID    string    `gorm:"index"`
	Attributes string    `gorm:"not null"`
	CreatedAt  time.Time
}

// TableName pins the table name independently of the struct name.
func (EventRecord) TableName() string { return "market_events" }

// AutoMigrate creates or updates the archive schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
