package handlers_page

import (
	"littlepage/internal/clmiddleware"
	"littlepage/internal/models/clgate"
	"littlepage/internal/models/clidentity"
	"littlepage/internal/models/cllog"
	"littlepage/internal/models/clpage"
	"math"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const wrongPassphrase = "Mot de passe incorrect"

type PageHandler struct {
	app      *clpage.Littlepage
	resolver *clidentity.Resolver
}

type unlockRequest struct {
	Passphrase string `json:"passphrase" binding:"required"`
}

func NewPageHandler(app *clpage.Littlepage, resolver *clidentity.Resolver) *PageHandler {
	return &PageHandler{
		app:      app,
		resolver: resolver,
	}
}

// now suit l'horloge du gate pour que date du jour et expiration concordent
func (ph *PageHandler) now() time.Time {
	return ph.app.Gate.Now()
}

// Index affiche la page, ou le formulaire de déverrouillage si l'accès est fermé
func (ph *PageHandler) Index(c *gin.Context) {
	now := ph.now()
	render := ph.app.Page.Evaluate(c.Request.Context(), sessions.Default(c), clidentity.VisitorID(c), now)
	if render.Locked() {
		ph.lockedPage(c, http.StatusForbidden, "", render.Warnings)
		return
	}

	conf := ph.app.Configuration
	c.HTML(http.StatusOK, "page", gin.H{
		"title":       conf.Page.Title,
		"description": ph.app.Description,
		"content":     ph.app.Content,
		"status":      string(render.Decision.Status),
		"remaining":   remainingSeconds(render.Decision.Remaining),
		"refresh":     render.RefreshAfter,
		"stats":       render.Stats,
		"warnings":    render.Warnings,
		"link":        ph.resolver.LinkQuery(c),
		"currentYear": now.Year(),
		"version":     ph.app.Version,
		"BuildID":     ph.app.BuildID,
		"renderTime":  clmiddleware.GetRenderTime(c),
	})
}

// Unlock traite le formulaire de mot de passe
func (ph *PageHandler) Unlock(c *gin.Context) {
	visitorID := clidentity.VisitorID(c)
	ok, err := ph.app.Gate.SubmitUnlock(c.Request.Context(), visitorID, c.PostForm("passphrase"))
	if err != nil {
		cllog.Component("page").Error().Err(err).Str("visitor_id", visitorID).Msg("Déverrouillage échoué")
		ph.lockedPage(c, http.StatusInternalServerError, "", []string{clpage.WarningAccess})
		return
	}
	if !ok {
		ph.lockedPage(c, http.StatusUnauthorized, wrongPassphrase, nil)
		return
	}

	c.Redirect(http.StatusSeeOther, "/"+ph.resolver.LinkQuery(c))
}

func (ph *PageHandler) lockedPage(c *gin.Context, status int, message string, warnings []string) {
	conf := ph.app.Configuration
	c.HTML(status, "locked", gin.H{
		"title":       conf.Page.Title,
		"description": ph.app.Description,
		"error":       message,
		"warnings":    warnings,
		"link":        ph.resolver.LinkQuery(c),
		"unlockHours": int(conf.Gate.Unlock.Hours()),
		"currentYear": ph.now().Year(),
		"version":     ph.app.Version,
		"BuildID":     ph.app.BuildID,
		"renderTime":  clmiddleware.GetRenderTime(c),
	})
}

// GetAccessAPI renvoie l'état d'accès du visiteur
func (ph *PageHandler) GetAccessAPI(c *gin.Context) {
	visitorID := clidentity.VisitorID(c)
	decision, err := ph.app.Gate.CheckAccess(c.Request.Context(), visitorID)

	status := http.StatusOK
	if err != nil {
		cllog.Component("page").Error().Err(err).Str("visitor_id", visitorID).Msg("Vérification d'accès échouée")
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"granted":           decision.Granted,
		"status":            decision.Status,
		"remaining_seconds": remainingSeconds(decision.Remaining),
	})
}

// UnlockAPI est la version JSON du formulaire de déverrouillage
func (ph *PageHandler) UnlockAPI(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	visitorID := clidentity.VisitorID(c)
	ok, err := ph.app.Gate.SubmitUnlock(c.Request.Context(), visitorID, req.Passphrase)
	if err != nil {
		cllog.Component("page").Error().Err(err).Str("visitor_id", visitorID).Msg("Déverrouillage échoué")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du déverrouillage"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"unlocked": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

// RequireAccess protège les routes API derrière le gate
func (ph *PageHandler) RequireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := ph.app.Gate.CheckAccess(c.Request.Context(), clidentity.VisitorID(c))
		if err != nil {
			cllog.Component("page").Error().Err(err).Msg("Vérification d'accès échouée")
		}
		if !decision.Granted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "Accès verrouillé",
				"status": clgate.StatusLocked,
			})
			return
		}
		c.Next()
	}
}

func (ph *PageHandler) Healthz(c *gin.Context) {
	sqlDB, err := ph.app.Db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func remainingSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
