package clgate

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("aucun état d'accès pour ce visiteur")

// Store persiste les AccessState par visiteur
type Store interface {
	Load(ctx context.Context, visitorID string) (AccessState, error)
	Save(ctx context.Context, state AccessState) error
	// Active renvoie les lignes free et unlocked telles qu'en base
	Active(ctx context.Context) ([]VisitorAccess, error)
	// Expire écrit next seulement si la ligne vaut encore prev
	Expire(ctx context.Context, prev VisitorAccess, next AccessState) (bool, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&VisitorAccess{})
}

func (s *GormStore) Load(ctx context.Context, visitorID string) (AccessState, error) {
	var rec VisitorAccess
	err := s.db.WithContext(ctx).Where("visitor_id = ?", visitorID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AccessState{}, ErrNotFound
	}
	if err != nil {
		return AccessState{}, fmt.Errorf("lecture visitor_access: %w", err)
	}
	return FromRecord(rec)
}

func (s *GormStore) Save(ctx context.Context, state AccessState) error {
	rec := state.ToRecord()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "visitor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"start_time", "access_status", "unlock_time"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("écriture visitor_access: %w", err)
	}
	return nil
}

func (s *GormStore) Active(ctx context.Context) ([]VisitorAccess, error) {
	var recs []VisitorAccess
	err := s.db.WithContext(ctx).
		Where("access_status <> ?", string(StatusLocked)).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("lecture visitor_access: %w", err)
	}
	return recs, nil
}

func (s *GormStore) Expire(ctx context.Context, prev VisitorAccess, next AccessState) (bool, error) {
	rec := next.ToRecord()
	query := s.db.WithContext(ctx).Model(&VisitorAccess{}).
		Where("visitor_id = ? AND access_status = ?", prev.VisitorID, prev.AccessStatus)
	query = whereColumn(query, "start_time", prev.StartTime)
	query = whereColumn(query, "unlock_time", prev.UnlockTime)

	res := query.Updates(map[string]interface{}{
		"access_status": rec.AccessStatus,
		"start_time":    nullable(rec.StartTime),
		"unlock_time":   nullable(rec.UnlockTime),
	})
	if res.Error != nil {
		return false, fmt.Errorf("écriture visitor_access: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func whereColumn(query *gorm.DB, column string, value *string) *gorm.DB {
	if value == nil {
		return query.Where(column + " IS NULL")
	}
	return query.Where(column+" = ?", *value)
}

func nullable(value *string) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
