package clmiddleware

import (
	"crypto/rand"
	"fmt"
	"littlepage/internal/gormzerologger"
	"littlepage/internal/models/clidentity"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const SessionName = "littlepage"

func InitMiddleware(r *gin.Engine, production bool, resolver *clidentity.Resolver) {
	r.Use(Logger())
	r.Use(Recovery())

	// use Compression, with gzip
	r.Use(gzip.Gzip(gzip.BestSpeed))

	// la session délimite le comptage des visites
	r.Use(NewSession(production))

	r.Use(RenderTime())
	r.Use(CORS)

	// identité visiteur, après la session
	r.Use(Visitor(resolver))
}

func CORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}

	c.Next()
}

// NewLimiter limite le nombre de requêtes par IP sur la période
func NewLimiter(limit int64, period time.Duration) gin.HandlerFunc {
	rate := limiter.Rate{
		Period: period,
		Limit:  limit,
	}
	instance := limiter.New(memory.NewStore(), rate)
	return ginlimiter.NewMiddleware(instance)
}

// NewSession crée une session cookie sans Max-Age, qui vit le temps du navigateur
func NewSession(production bool) gin.HandlerFunc {
	store := cookie.NewStore(generateSecretKey())
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   0,
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(SessionName, store)
}

// Visitor résout l'identifiant visiteur une fois par requête
func Visitor(resolver *clidentity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		// pas d'identité pour les fichiers, la sonde et les routes inconnues
		if c.FullPath() == "" || strings.HasPrefix(c.Request.URL.Path, "/files/") || c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		visitorID, minted := resolver.Resolve(c)
		c.Set(clidentity.ContextKey, visitorID)
		c.Request = c.Request.WithContext(gormzerologger.WithVisitor(c.Request.Context(), visitorID))

		// jeton dans l'adresse: on redirige pour que la page le porte
		if minted && c.Request.Method == http.MethodGet {
			if target := resolver.RedirectURL(c); target != "" {
				c.Redirect(http.StatusFound, target)
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		var logEvent *zerolog.Event
		switch {
		case statusCode == http.StatusNotFound:
			logEvent = log.Debug()
		case statusCode >= 500:
			logEvent = log.Error()
		case statusCode >= 400:
			logEvent = log.Warn()
		default:
			logEvent = log.Info()
		}

		logEvent.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("visitor_id", clidentity.VisitorID(c)).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP Request")

		for _, err := range c.Errors {
			log.Error().
				Err(err.Err).
				Str("type", strconv.FormatUint(uint64(err.Type), 10)).
				Msg("Request error")
		}
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", c.Request.URL.Path).
					Str("method", c.Request.Method).
					Msg("Panic recovered")

				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func RenderTime() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("requestStart", time.Now())
		c.Next()
	}
}

func GetRenderTime(c *gin.Context) string {
	start, ok := c.Get("requestStart")
	if !ok {
		return ""
	}
	return fmt.Sprintf("Page générée en %s", formatDuration(time.Since(start.(time.Time))))
}

// Générer une clé secrète aléatoire
func generateSecretKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatal().Err(err).Msg("Erreur génération clé secrète")
	}
	return key
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", int(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", int(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
