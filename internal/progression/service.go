package progression

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/streamquest/internal/watchtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "progression.service.new"
	opAwardWatchXP    = "progression.award_watch_xp"
	opAwardConnection = "progression.award_connection_xp"
	opLevelInfo       = "progression.level_info"
	opSnapshot        = "progression.snapshot"
	fieldUserID       = "user_id"
	queryUserID       = fieldUserID + " = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingLedger   = errors.New("watch time ledger is required")
)

// UserProgress is the persisted XP state for one user.
type UserProgress struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	XP               int64  `gorm:"column:xp;not null;default:0"`
	Level            int    `gorm:"column:level;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (UserProgress) TableName() string {
	return "user_progress"
}

// Award describes the effect of one XP award.
type Award struct {
	UserID        domain.UserID
	Awarded       int64
	PreviousXP    int64
	XP            int64
	PreviousLevel int
	Level         int
}

// LeveledUp reports whether the award crossed a level boundary.
func (a Award) LeveledUp() bool {
	return a.Level > a.PreviousLevel
}

// ServiceConfig describes the dependencies of the progression service.
type ServiceConfig struct {
	Database *gorm.DB
	Ledger   *watchtime.Ledger
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists XP and levels.
type Service struct {
	db       *gorm.DB
	ledger   *watchtime.Ledger
	clock    func() time.Time
	reporter serviceerr.Reporter
}

// NewService constructs the progression service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Ledger == nil {
		return nil, serviceerr.New(opServiceNew, "missing_ledger", errMissingLedger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:       cfg.Database,
		ledger:   cfg.Ledger,
		clock:    clock,
		reporter: serviceerr.NewReporter(cfg.Logger, "progression service error"),
	}, nil
}

// AwardWatchXP records watched seconds in the ledger and awards XP decayed by
// the user's lifetime watch time prior to this session.
func (s *Service) AwardWatchXP(ctx context.Context, userID domain.UserID, secondsWatched int64) (Award, error) {
	if s == nil || s.db == nil {
		return Award{}, serviceerr.New(opAwardWatchXP, "missing_database", errMissingDatabase)
	}
	var award Award
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		award, txErr = s.AwardWatchXPTx(tx, userID, secondsWatched)
		return txErr
	})
	if err != nil {
		return Award{}, err
	}
	return award, nil
}

// AwardWatchXPTx performs AwardWatchXP inside a caller-owned transaction.
func (s *Service) AwardWatchXPTx(tx *gorm.DB, userID domain.UserID, secondsWatched int64) (Award, error) {
	if secondsWatched < 0 {
		secondsWatched = 0
	}
	increment, err := s.ledger.AddSecondsTx(tx, userID, secondsWatched)
	if err != nil {
		return Award{}, err
	}
	amount := XPForWatchSeconds(secondsWatched, increment.PreviousSeconds/60)
	return s.addXP(tx, opAwardWatchXP, userID, amount)
}

// AwardConnectionXP grants the fixed accepted-connection reward.
func (s *Service) AwardConnectionXP(ctx context.Context, userID domain.UserID) (Award, error) {
	if s == nil || s.db == nil {
		return Award{}, serviceerr.New(opAwardConnection, "missing_database", errMissingDatabase)
	}
	var award Award
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		award, txErr = s.AwardConnectionXPTx(tx, userID)
		return txErr
	})
	if err != nil {
		return Award{}, err
	}
	return award, nil
}

// AwardConnectionXPTx performs AwardConnectionXP inside a caller-owned transaction.
func (s *Service) AwardConnectionXPTx(tx *gorm.DB, userID domain.UserID) (Award, error) {
	return s.addXP(tx, opAwardConnection, userID, XPForAcceptedConnection())
}

// LevelInfo returns the level summary for the user. Unknown users report level 1 with zero XP.
func (s *Service) LevelInfo(ctx context.Context, userID domain.UserID) (LevelInfo, error) {
	if s == nil || s.db == nil {
		return LevelInfo{}, serviceerr.New(opLevelInfo, "missing_database", errMissingDatabase)
	}
	var stored UserProgress
	err := s.db.WithContext(ctx).Where(queryUserID, userID.String()).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewLevelInfo(0), nil
	}
	if err != nil {
		return LevelInfo{}, s.reporter.Fail(opLevelInfo, "query_failed", err, zap.String(fieldUserID, userID.String()))
	}
	return NewLevelInfo(stored.XP), nil
}

// Snapshot returns every stored progress row in one read.
func (s *Service) Snapshot(ctx context.Context) ([]UserProgress, error) {
	if s == nil || s.db == nil {
		return nil, serviceerr.New(opSnapshot, "missing_database", errMissingDatabase)
	}
	var rows []UserProgress
	if err := s.db.WithContext(ctx).Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, s.reporter.Fail(opSnapshot, "query_failed", err)
	}
	return rows, nil
}

// addXP increments xp and rewrites level in a single statement so concurrent
// awards for the same user never lose an update.
func (s *Service) addXP(tx *gorm.DB, operation string, userID domain.UserID, amount int64) (Award, error) {
	nowSeconds := s.clock().UTC().Unix()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&UserProgress{
		UserID:           userID.String(),
		XP:               0,
		Level:            1,
		UpdatedAtSeconds: nowSeconds,
	}).Error; err != nil {
		return Award{}, s.reporter.Fail(operation, "progress_insert_failed", err, zap.String(fieldUserID, userID.String()))
	}

	var before UserProgress
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryUserID, userID.String()).
		Take(&before).Error; err != nil {
		return Award{}, s.reporter.Fail(operation, "progress_select_failed", err, zap.String(fieldUserID, userID.String()))
	}

	update := tx.Model(&UserProgress{}).
		Where(queryUserID, userID.String()).
		Updates(map[string]any{
			"xp":           gorm.Expr("xp + ?", amount),
			"level":        gorm.Expr("((xp + ?) / ?) + 1", amount, LevelXPStep),
			"updated_at_s": nowSeconds,
		})
	if update.Error != nil {
		return Award{}, s.reporter.Fail(operation, "progress_update_failed", update.Error, zap.String(fieldUserID, userID.String()))
	}

	newXP := before.XP + amount
	return Award{
		UserID:        userID,
		Awarded:       amount,
		PreviousXP:    before.XP,
		XP:            newXP,
		PreviousLevel: LevelForXP(before.XP),
		Level:         LevelForXP(newXP),
	}, nil
}
