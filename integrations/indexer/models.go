package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEvent is one committed ledger event.
type AuditEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"index"`
	Module     string    `gorm:"index"`
	Subject    string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
	Fields     []AuditAttribute `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

// AuditAttribute stores one event attribute so events can be looked up by any
// identity they mention.
type AuditAttribute struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID uuid.UUID `gorm:"type:uuid;index"`
	Key     string    `gorm:"index:idx_attr_key_value"`
	Value   string    `gorm:"index:idx_attr_key_value"`
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuditEvent{}, &AuditAttribute{})
}
