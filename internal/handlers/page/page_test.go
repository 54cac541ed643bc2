package handlers_page

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"littlepage/internal/clmiddleware"
	"littlepage/internal/models/clconfig"
	"littlepage/internal/models/clidentity"
	"littlepage/internal/models/clpage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplates = `{{define "page"}}content {{.status}} {{.stats.TodayPV}}/{{.stats.TodayUV}}{{end}}` +
	`{{define "locked"}}locked {{.error}}{{range .warnings}} {{.}}{{end}}{{end}}`

func setupRouter(t *testing.T) (*gin.Engine, *clpage.Littlepage, *time.Time) {
	gin.SetMode(gin.TestMode)

	conf := &clconfig.Config{
		Production: true,
		Database:   clconfig.DatabaseConfig{Db: "sqlite", Path: ":memory:"},
		Logger:     clconfig.LoggerConfig{Level: "warn"},
		Gate:       clconfig.GateConfig{Secret: "vip24"},
	}
	require.NoError(t, conf.ApplyDefaults())

	app, err := clpage.Open(conf, "test", "test")
	require.NoError(t, err)
	t.Cleanup(app.Close)

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	app.Gate.Now = func() time.Time { return now }

	resolver, err := clidentity.New(conf.Identity, false)
	require.NoError(t, err)

	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("").Parse(testTemplates)))
	r.Use(clmiddleware.NewSession(false))
	r.Use(clmiddleware.Visitor(resolver))

	ph := NewPageHandler(app, resolver)
	r.GET("/", ph.Index)
	r.POST("/unlock", ph.Unlock)
	r.GET("/healthz", ph.Healthz)
	r.GET("/api/access", ph.GetAccessAPI)
	r.POST("/api/unlock", ph.UnlockAPI)
	r.GET("/api/protected", ph.RequireAccess(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r, app, &now
}

// browser rejoue les cookies reçus, comme un navigateur
type browser struct {
	r       *gin.Engine
	cookies map[string]*http.Cookie
}

func newBrowser(r *gin.Engine) *browser {
	return &browser{r: r, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range b.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	b.r.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		b.cookies[ck.Name] = ck
	}
	return w
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest("GET", path, nil))
}

func (b *browser) postForm(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func TestIndexTrialLockAndUnlock(t *testing.T) {
	r, _, now := setupRouter(t)
	b := newBrowser(r)

	w := b.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "content free 1/1", w.Body.String())

	// même session: la visite n'est pas recomptée
	w = b.get("/")
	assert.Equal(t, "content free 1/1", w.Body.String())

	*now = now.Add(61 * time.Second)
	w = b.get("/")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "locked ", w.Body.String())

	w = b.postForm("/unlock", "passphrase=vip25")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "locked Mot de passe incorrect", w.Body.String())

	w = b.postForm("/unlock", "passphrase=vip24")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = b.get("/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "content unlocked 1/1", w.Body.String())

	// 24h plus tard, verrouillé à nouveau
	*now = now.Add(24 * time.Hour)
	w = b.get("/")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIndexTwoVisitors(t *testing.T) {
	r, _, _ := setupRouter(t)

	newBrowser(r).get("/")
	w := newBrowser(r).get("/")
	assert.Equal(t, "content free 2/2", w.Body.String())
}

func TestIndexGateFailureLocks(t *testing.T) {
	r, app, _ := setupRouter(t)
	require.NoError(t, app.Db.Migrator().DropTable("visitor_access"))

	w := newBrowser(r).get("/")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), clpage.WarningAccess)
}

func TestAccessAPI(t *testing.T) {
	r, _, now := setupRouter(t)
	b := newBrowser(r)

	w := b.get("/api/access")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"granted":true,"status":"free","remaining_seconds":60}`, w.Body.String())

	*now = now.Add(90 * time.Second)
	w = b.get("/api/access")
	assert.JSONEq(t, `{"granted":false,"status":"locked","remaining_seconds":0}`, w.Body.String())
}

func TestUnlockAPI(t *testing.T) {
	r, _, now := setupRouter(t)
	b := newBrowser(r)
	b.get("/api/access")
	*now = now.Add(2 * time.Minute)

	w := b.postJSON("/api/unlock", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.postJSON("/api/unlock", `{"passphrase":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"unlocked":false}`, w.Body.String())

	w = b.get("/api/access")
	assert.JSONEq(t, `{"granted":false,"status":"locked","remaining_seconds":0}`, w.Body.String())

	w = b.postJSON("/api/unlock", `{"passphrase":"vip24"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unlocked":true}`, w.Body.String())

	w = b.get("/api/access")
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["granted"])
	assert.Equal(t, "unlocked", body["status"])
	assert.Equal(t, float64(24*60*60), body["remaining_seconds"])
}

func TestRequireAccess(t *testing.T) {
	r, _, now := setupRouter(t)
	b := newBrowser(r)

	w := b.get("/api/protected")
	assert.Equal(t, http.StatusOK, w.Code)

	*now = now.Add(time.Hour)
	w = b.get("/api/protected")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"locked"`)
}

func TestHealthz(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := newBrowser(r).get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
