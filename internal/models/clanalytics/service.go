package clanalytics

import (
	"context"
	"errors"
	"fmt"
	"littlepage/internal/models/cllog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountedKey marque la session comme déjà comptée
const CountedKey = "has_counted"

var ErrRealtimeDisabled = errors.New("compteurs temps réel désactivés")

// Session est la partie de sessions.Session utilisée pour l'idempotence
type Session interface {
	Get(key interface{}) interface{}
	Set(key interface{}, val interface{})
	Save() error
}

type AnalyticsService struct {
	db    *gorm.DB
	redis *redis.Client
	cache *gocache.Cache
}

// NewAnalyticsService crée le service; redisClient peut être nil
func NewAnalyticsService(db *gorm.DB, redisClient *redis.Client, cacheTTL time.Duration) *AnalyticsService {
	return &AnalyticsService{
		db:    db,
		redis: redisClient,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

func (as *AnalyticsService) Migrate() error {
	return as.db.AutoMigrate(&DailyTraffic{}, &Visitor{})
}

// Track compte la visite au plus une fois par session
func (as *AnalyticsService) Track(ctx context.Context, session Session, visitorID, today string) (bool, error) {
	if session.Get(CountedKey) != nil {
		return false, nil
	}

	if err := as.RecordVisit(ctx, visitorID, today); err != nil {
		return false, err
	}

	session.Set(CountedKey, true)
	if err := session.Save(); err != nil {
		return true, fmt.Errorf("sauvegarde de la session: %w", err)
	}
	return true, nil
}

// RecordVisit incrémente les pages vues du jour et met à jour le visiteur, en une transaction
func (as *AnalyticsService) RecordVisit(ctx context.Context, visitorID, today string) error {
	err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&DailyTraffic{Date: today}).Error; err != nil {
			return err
		}

		if err := tx.Model(&DailyTraffic{}).
			Where(map[string]interface{}{"date": today}).
			UpdateColumn("pv_count", gorm.Expr("pv_count + ?", 1)).Error; err != nil {
			return err
		}

		visitor := Visitor{
			VisitorID:      visitorID,
			FirstVisitDate: today,
			LastVisitDate:  today,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "visitor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_visit_date"}),
		}).Create(&visitor).Error
	})
	if err != nil {
		return fmt.Errorf("error recording visit: %w", err)
	}

	as.cache.Flush()
	as.mirror(ctx, visitorID, today)
	return nil
}

// GetStats renvoie les UV du jour, les UV totaux et les PV du jour
func (as *AnalyticsService) GetStats(ctx context.Context, today string) (Stats, error) {
	cacheKey := "stats:" + today
	if cached, found := as.cache.Get(cacheKey); found {
		return cached.(Stats), nil
	}

	var stats Stats
	db := as.db.WithContext(ctx)

	if err := db.Model(&Visitor{}).
		Where(map[string]interface{}{"last_visit_date": today}).
		Count(&stats.TodayUV).Error; err != nil {
		return Stats{}, fmt.Errorf("error counting today visitors: %w", err)
	}

	if err := db.Model(&Visitor{}).Count(&stats.TotalUV).Error; err != nil {
		return Stats{}, fmt.Errorf("error counting visitors: %w", err)
	}

	var daily DailyTraffic
	err := db.Where(map[string]interface{}{"date": today}).Take(&daily).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return Stats{}, fmt.Errorf("error reading page views: %w", err)
	default:
		stats.TodayPV = daily.PVCount
	}

	as.cache.SetDefault(cacheKey, stats)
	return stats, nil
}

// GetVisitor relit la fiche d'un visiteur
func (as *AnalyticsService) GetVisitor(ctx context.Context, visitorID string) (*Visitor, error) {
	var visitor Visitor
	err := as.db.WithContext(ctx).Where(map[string]interface{}{"visitor_id": visitorID}).Take(&visitor).Error
	if err != nil {
		return nil, err
	}
	return &visitor, nil
}

// GetDailyHistory renvoie les derniers jours connus, du plus récent au plus ancien
func (as *AnalyticsService) GetDailyHistory(ctx context.Context, days int) ([]DailyTraffic, error) {
	history := []DailyTraffic{}
	err := as.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Limit(days).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("error getting daily history: %w", err)
	}
	return history, nil
}

// mirror recopie la visite dans Redis pour une lecture rapide, sur 31 jours
func (as *AnalyticsService) mirror(ctx context.Context, visitorID, today string) {
	if as.redis == nil {
		return
	}

	_, err := as.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		dailyKey := "analytics:daily:" + today
		pipe.HIncrBy(ctx, dailyKey, "page_views", 1)
		pipe.Expire(ctx, dailyKey, 31*24*time.Hour)

		visitorKey := "analytics:visitors:" + today
		pipe.SAdd(ctx, visitorKey, visitorID)
		pipe.Expire(ctx, visitorKey, 31*24*time.Hour)
		return nil
	})
	if err != nil {
		cllog.Component("analytics").Warn().Err(err).Msg("Compteurs redis non mis à jour")
	}
}

// GetRealtimeStats lit les compteurs du jour dans Redis
func (as *AnalyticsService) GetRealtimeStats(ctx context.Context, today string) (RealtimeStats, error) {
	if as.redis == nil {
		return RealtimeStats{}, ErrRealtimeDisabled
	}

	pageViews, err := as.redis.HGet(ctx, "analytics:daily:"+today, "page_views").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return RealtimeStats{}, err
	}

	uniqueVisitors, err := as.redis.SCard(ctx, "analytics:visitors:"+today).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return RealtimeStats{}, err
	}

	return RealtimeStats{
		TodayPageViews:      pageViews,
		TodayUniqueVisitors: uniqueVisitors,
	}, nil
}
