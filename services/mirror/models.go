package mirror

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContractRecord is the dashboard-facing summary of the auction, folded from
// mirrored engine events plus human-entered metadata. It is a downstream
// cache: the engine never reads it back.
type ContractRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Address         string    `gorm:"uniqueIndex"`
	Name            string
	Description     string
	DisplayBudget   string
	TotalBudget     string
	MinimumBid      string
	SafetyDeposit   string
	UnlockTime      int64
	GracePeriod     int64
	GracePeriodEnd  int64
	CommittedCount  uint64
	RevealedCount   uint64
	Accepted        bool
	AcceptedOfferor string
	AcceptedAmount  string
	Locked          bool
	Started         bool
	StartTime       int64
	StateApproved   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventRecord is one mirrored engine event, kept append-only for audit and
// dashboard history views.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Address    string    `gorm:"index"`
	Type       string    `gorm:"index"`
	Attributes string
	RecordedAt time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the mirror store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ContractRecord{},
		&EventRecord{},
	)
}
