package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tenderd/core/events"
	"tenderd/core/types"
	"tenderd/native/auction"
)

// ErrContractNotFound is returned when no mirrored contract matches the
// requested address.
var ErrContractNotFound = errors.New("mirror: contract not found")

// Open initialises the sqlite-backed mirror store at the supplied DSN and
// applies schema migrations.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("mirror: dsn required")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("mirror: migrate: %w", err)
	}
	return db, nil
}

type payloadEvent interface {
	Event() *types.Event
}

// Recorder mirrors engine events into the off-chain store. It satisfies
// events.Emitter; a failed write only logs, mirrored state is a cache and
// must never block or fail an engine operation.
type Recorder struct {
	db      *gorm.DB
	address string
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewRecorder constructs a recorder for the auction identified by address.
func NewRecorder(db *gorm.DB, address string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, address: strings.TrimSpace(address), logger: logger, nowFn: time.Now}
}

// SetNowFunc overrides the recorder clock. Intended for tests.
func (r *Recorder) SetNowFunc(now func() time.Time) {
	if now == nil {
		r.nowFn = time.Now
		return
	}
	r.nowFn = now
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || r.db == nil || evt == nil {
		return
	}
	carrier, ok := evt.(payloadEvent)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	if err := r.record(payload); err != nil {
		r.logger.Error("mirror: record event failed",
			slog.String("type", payload.Type), slog.Any("error", err))
	}
}

func (r *Recorder) record(evt *types.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	rec := EventRecord{
		ID:         uuid.New(),
		Address:    r.address,
		Type:       evt.Type,
		Attributes: string(attrs),
		RecordedAt: r.nowFn().UTC(),
	}
	if err := r.db.Create(&rec).Error; err != nil {
		return err
	}
	return r.fold(evt)
}

// fold applies an event to the contract summary row, creating it on first
// sight of the auction.
func (r *Recorder) fold(evt *types.Event) error {
	contract, err := r.loadOrCreate()
	if err != nil {
		return err
	}
	switch evt.Type {
	case auction.EventTypeContractDeployed:
		contract.TotalBudget = evt.Attributes["totalBudget"]
		contract.MinimumBid = evt.Attributes["minimumBid"]
		contract.SafetyDeposit = evt.Attributes["safetyDepositAmount"]
		contract.UnlockTime = attrInt(evt, "unlockTime")
		contract.GracePeriod = attrInt(evt, "gracePeriod")
		contract.GracePeriodEnd = contract.UnlockTime + contract.GracePeriod
	case auction.EventTypeOfferCommitted:
		contract.CommittedCount++
	case auction.EventTypeOfferRevealed:
		contract.RevealedCount++
	case auction.EventTypeContractAccepted:
		contract.Accepted = true
		contract.AcceptedOfferor = evt.Attributes["contractor"]
		contract.AcceptedAmount = evt.Attributes["offerAmount"]
	case auction.EventTypeContractLocked:
		contract.Locked = true
	case auction.EventTypeContractUnlocked:
		contract.Locked = false
	case auction.EventTypeContractReset:
		contract.UnlockTime = attrInt(evt, "newUnlockTime")
		contract.GracePeriodEnd = contract.UnlockTime + contract.GracePeriod
		contract.CommittedCount = 0
		contract.RevealedCount = 0
		contract.Accepted = false
		contract.AcceptedOfferor = ""
		contract.AcceptedAmount = ""
		contract.Started = false
		contract.StartTime = 0
		contract.StateApproved = false
	case auction.EventTypeGracePeriodUpdated:
		contract.GracePeriod = attrInt(evt, "newGracePeriod")
		contract.GracePeriodEnd = contract.UnlockTime + contract.GracePeriod
	case auction.EventTypeTotalBudgetUpdated:
		contract.TotalBudget = evt.Attributes["newTotalBudget"]
	case auction.EventTypeMinimumBidUpdated:
		contract.MinimumBid = evt.Attributes["newMinimumBid"]
	case auction.EventTypeUnlockTimeUpdated:
		contract.UnlockTime = attrInt(evt, "newUnlockTime")
		contract.GracePeriodEnd = contract.UnlockTime + contract.GracePeriod
	case auction.EventTypeContractStarted:
		contract.Started = true
		contract.StartTime = attrInt(evt, "startTime")
	case auction.EventTypeStateApproved:
		contract.StateApproved = true
	}
	return r.db.Save(contract).Error
}

func (r *Recorder) loadOrCreate() (*ContractRecord, error) {
	var contract ContractRecord
	err := r.db.Where("address = ?", r.address).First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contract = ContractRecord{ID: uuid.New(), Address: r.address}
		if err := r.db.Create(&contract).Error; err != nil {
			return nil, err
		}
		return &contract, nil
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func attrInt(evt *types.Event, key string) int64 {
	v, err := strconv.ParseInt(evt.Attributes[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Store serves the dashboard read path over mirrored data.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the mirror database for reads and metadata writes.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListContracts returns every mirrored contract summary.
func (s *Store) ListContracts() ([]ContractRecord, error) {
	var contracts []ContractRecord
	if err := s.db.Order("created_at").Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

// GetContract returns the mirrored summary for one auction address.
func (s *Store) GetContract(address string) (*ContractRecord, error) {
	var contract ContractRecord
	err := s.db.Where("address = ?", strings.TrimSpace(address)).First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// SetMetadata stores the human-entered display fields for an auction.
func (s *Store) SetMetadata(address, name, description, displayBudget string) (*ContractRecord, error) {
	contract, err := s.GetContract(address)
	if err != nil {
		return nil, err
	}
	contract.Name = strings.TrimSpace(name)
	contract.Description = strings.TrimSpace(description)
	contract.DisplayBudget = strings.TrimSpace(displayBudget)
	if err := s.db.Save(contract).Error; err != nil {
		return nil, err
	}
	return contract, nil
}

// ListEvents returns the most recent mirrored events for an auction, newest
// first, capped at limit.
func (s *Store) ListEvents(address string, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []EventRecord
	err := s.db.Where("address = ?", strings.TrimSpace(address)).
		Order("recorded_at desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
