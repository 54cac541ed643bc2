package clidentity

import (
	"crypto/rand"
	"fmt"
	"littlepage/internal/models/clconfig"
	"net/url"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// ContextKey porte l'identifiant résolu dans le contexte gin
	ContextKey = "visitor_id"

	pendingTokenKey = "visitor_pending_token"
)

// Carrier transporte l'identifiant visiteur d'une requête à l'autre
type Carrier interface {
	Get(c *gin.Context, key string) (string, bool)
	Set(c *gin.Context, key, value string, ttl time.Duration)
}

// CookieCarrier garde l'identifiant dans un cookie durable
type CookieCarrier struct {
	Secure bool
}

func (cc CookieCarrier) Get(c *gin.Context, key string) (string, bool) {
	value, err := c.Cookie(key)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

func (cc CookieCarrier) Set(c *gin.Context, key, value string, ttl time.Duration) {
	c.SetCookie(key, value, int(ttl.Seconds()), "/", "", cc.Secure, true)
}

// SessionCarrier garde l'identifiant dans la session; perdu à la fermeture du navigateur
type SessionCarrier struct{}

func (SessionCarrier) Get(c *gin.Context, key string) (string, bool) {
	value, ok := sessions.Default(c).Get(key).(string)
	return value, ok && value != ""
}

func (SessionCarrier) Set(c *gin.Context, key, value string, ttl time.Duration) {
	session := sessions.Default(c)
	session.Set(key, value)
	if err := session.Save(); err != nil {
		log.Warn().Err(err).Msg("Identifiant visiteur non sauvegardé en session")
	}
}

// QueryCarrier met un jeton signé dans l'adresse de la page
type QueryCarrier struct {
	Secret []byte
}

func (qc QueryCarrier) Get(c *gin.Context, key string) (string, bool) {
	token := c.Query(key)
	if token == "" {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return qc.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

func (qc QueryCarrier) Set(c *gin.Context, key, value string, ttl time.Duration) {
	token, err := qc.Sign(value, ttl)
	if err != nil {
		log.Error().Err(err).Msg("Jeton visiteur non signé")
		return
	}
	c.Set(pendingTokenKey, token)
}

func (qc QueryCarrier) Sign(visitorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   visitorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(qc.Secret)
}

// Resolver résout l'identifiant une seule fois par requête
type Resolver struct {
	Carrier Carrier
	Key     string
	TTL     time.Duration
}

func New(conf clconfig.IdentityConfig, production bool) (*Resolver, error) {
	var carrier Carrier
	switch conf.Carrier {
	case "", "cookie":
		carrier = CookieCarrier{Secure: production}
	case "session":
		carrier = SessionCarrier{}
	case "query":
		secret := []byte(conf.Secret)
		if len(secret) == 0 {
			secret = make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, err
			}
		}
		carrier = QueryCarrier{Secret: secret}
	default:
		return nil, fmt.Errorf("transport d'identité inconnu: %s", conf.Carrier)
	}

	return &Resolver{Carrier: carrier, Key: conf.Key, TTL: conf.TTL}, nil
}

// Resolve renvoie l'identifiant connu ou en crée un nouveau
func (r *Resolver) Resolve(c *gin.Context) (visitorID string, minted bool) {
	if id, ok := r.Carrier.Get(c, r.Key); ok {
		return id, false
	}

	visitorID = uuid.NewString()
	r.Carrier.Set(c, r.Key, visitorID, r.TTL)
	return visitorID, true
}

// RedirectURL renvoie l'adresse portant le jeton tout juste créé, ou "" s'il n'y en a pas
func (r *Resolver) RedirectURL(c *gin.Context) string {
	token := c.GetString(pendingTokenKey)
	if token == "" {
		return ""
	}

	u := *c.Request.URL
	query := u.Query()
	query.Set(r.Key, token)
	u.RawQuery = query.Encode()
	return u.RequestURI()
}

// LinkQuery renvoie le suffixe "?key=jeton" à reporter dans les liens et formulaires
func (r *Resolver) LinkQuery(c *gin.Context) string {
	if _, ok := r.Carrier.(QueryCarrier); !ok {
		return ""
	}
	token := c.GetString(pendingTokenKey)
	if token == "" {
		token = c.Query(r.Key)
	}
	if token == "" {
		return ""
	}
	return "?" + url.Values{r.Key: []string{token}}.Encode()
}

// VisitorID lit l'identifiant posé par le middleware
func VisitorID(c *gin.Context) string {
	return c.GetString(ContextKey)
}
