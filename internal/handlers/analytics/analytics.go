package handlers_analytics

import (
	"errors"
	"littlepage/internal/models/clanalytics"
	"littlepage/internal/models/cllog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

type AnalyticsHandler struct {
	service *clanalytics.AnalyticsService
	now     func() time.Time
}

func NewAnalyticsHandler(service *clanalytics.AnalyticsService, now func() time.Time) *AnalyticsHandler {
	if now == nil {
		now = time.Now
	}
	return &AnalyticsHandler{
		service: service,
		now:     now,
	}
}

// GetStats retourne les UV du jour, les UV totaux et les PV du jour
func (ah *AnalyticsHandler) GetStats(c *gin.Context) {
	stats, err := ah.service.GetStats(c.Request.Context(), clanalytics.Today(ah.now()))
	if err != nil {
		cllog.Component("analytics").Error().Err(err).Msg("Lecture des statistiques échouée")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve analytics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetHistory retourne les pages vues des derniers jours
func (ah *AnalyticsHandler) GetHistory(c *gin.Context) {
	days := defaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days doit être un entier positif"})
			return
		}
		days = min(n, maxHistoryDays)
	}

	history, err := ah.service.GetDailyHistory(c.Request.Context(), days)
	if err != nil {
		cllog.Component("analytics").Error().Err(err).Msg("Lecture de l'historique échouée")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve analytics",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"days":    days,
		"history": history,
	})
}

// GetRealtimeStats retourne les compteurs redis du jour
func (ah *AnalyticsHandler) GetRealtimeStats(c *gin.Context) {
	stats, err := ah.service.GetRealtimeStats(c.Request.Context(), clanalytics.Today(ah.now()))
	if errors.Is(err, clanalytics.ErrRealtimeDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Realtime stats disabled",
		})
		return
	}
	if err != nil {
		cllog.Component("analytics").Error().Err(err).Msg("Lecture redis échouée")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve realtime stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
