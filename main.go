package main

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"littlepage/internal/clmiddleware"
	handlers_analytics "littlepage/internal/handlers/analytics"
	handlers_page "littlepage/internal/handlers/page"
	"littlepage/internal/models/clconfig"
	"littlepage/internal/models/clgate"
	"littlepage/internal/models/clidentity"
	"littlepage/internal/models/cllog"
	"littlepage/internal/models/clpage"

	"github.com/gin-gonic/gin"
	goflags "github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	htmlmin "github.com/tdewolff/minify/v2/html"
)

const VERSION string = "0.1.0"

// tentatives de déverrouillage par IP et par minute
const unlockAttempts = 5

var BuildID string

//go:embed templates/**/*.html
var templatesFS embed.FS

//go:embed ressources/css
var staticFS embed.FS

type options struct {
	Config  string `short:"c" long:"config" description:"Fichier de configuration YAML" default:"littlepage.yaml"`
	Example bool   `long:"example" description:"Créer un fichier de configuration exemple"`
	Version bool   `long:"version" description:"version du produit"`
}

func parseCommandLineArgs(args []string) (*options, error) {
	var opts options
	parser := goflags.NewParser(&opts, goflags.HelpFlag|goflags.PassDoubleDash)
	parser.Name = "littlepage"
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

func initConfiguration(args []string) *clconfig.Config {
	opts, err := parseCommandLineArgs(args)
	if err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Printf("❌ %v\n", err)
		fmt.Println("Usage:")
		fmt.Println("  littlepage --config littlepage.yaml")
		fmt.Println("  littlepage --example  (pour créer un fichier exemple)")
		fmt.Println("  littlepage --version  (affiche la version)")
		os.Exit(1)
	}

	if opts.Version {
		println(VERSION)
		os.Exit(0)
	}

	clconfig.CreateExample(opts.Example, opts.Config)

	conf, err := clconfig.LoadAndConvertConfig(opts.Config)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	return conf
}

func newServer(conf *clconfig.Config) (*gin.Engine, error) {
	if conf.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if conf.TrustedProxies != nil {
		if err := r.SetTrustedProxies(conf.TrustedProxies); err != nil {
			return nil, err
		}
	}
	if conf.TrustedPlatform != "" {
		switch conf.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = conf.TrustedPlatform
		}
	}

	// parser les templates
	tmpl, err := getTemplates(conf.Production)
	if err != nil {
		return nil, err
	}
	r.SetHTMLTemplate(tmpl)

	return r, nil
}

func getTemplates(production bool) (*template.Template, error) {
	m := minify.New()

	if production {
		m.Add("text/html", &htmlmin.Minifier{
			TemplateDelims:   htmlmin.GoTemplateDelims,
			KeepDocumentTags: true,
			KeepEndTags:      true,
			KeepQuotes:       true,
		})
	}

	tmpl := template.New("")

	// Lire tous les fichiers HTML
	err := fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".html" {
			return err
		}

		content, err := fs.ReadFile(templatesFS, path)
		if err != nil {
			return err
		}
		minified, err := m.Bytes("text/html", content)
		if err != nil {
			minified = content
		}

		if _, err := tmpl.New(path).Parse(string(minified)); err != nil {
			return fmt.Errorf("template %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tmpl, nil
}

// ServeMinifiedStatic sert les CSS embarqués, minifiés
func ServeMinifiedStatic(m *minify.M) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, "/files/")
		content, err := fs.ReadFile(staticFS, "ressources/"+path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Fichier non trouvé"})
			return
		}

		if filepath.Ext(path) != ".css" {
			c.Data(http.StatusOK, "application/octet-stream", content)
			return
		}

		minified, err := m.Bytes("text/css", content)
		if err != nil {
			minified = content
		}

		// En-têtes de cache, le BuildID dans l'URL change à chaque version
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.Header("ETag", generateETag(minified))

		c.Data(http.StatusOK, "text/css; charset=utf-8", minified)
	}
}

// Fonction helper pour générer un ETag
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf(`"%x"`, hash[:16])
}

func setRoutes(r *gin.Engine, app *clpage.Littlepage, resolver *clidentity.Resolver) {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)

	// middleware rate limiter
	middlewareLimiter := clmiddleware.NewLimiter(unlockAttempts, time.Minute)

	ph := handlers_page.NewPageHandler(app, resolver)
	ah := handlers_analytics.NewAnalyticsHandler(app.Analytics, app.Gate.Now)

	//default
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page non trouvée"})
	})

	// Route statiques
	r.GET("/files/css/*filepath", ServeMinifiedStatic(m))
	r.GET("/healthz", ph.Healthz)

	// Page
	r.GET("/", ph.Index)
	r.POST("/unlock", middlewareLimiter, ph.Unlock)

	// API
	api := r.Group("/api")
	{
		api.GET("/access", ph.GetAccessAPI)
		api.POST("/unlock", middlewareLimiter, ph.UnlockAPI)
	}

	stats := api.Group("/stats")
	stats.Use(ph.RequireAccess())
	{
		stats.GET("", ah.GetStats)
		stats.GET("/history", ah.GetHistory)
		stats.GET("/realtime", ah.GetRealtimeStats)
	}
}

// startSweeper verrouille périodiquement les accès expirés
func startSweeper(app *clpage.Littlepage) (*cron.Cron, error) {
	sweeper, err := clgate.NewSweeper(app.Gate, app.Configuration.Gate.Sweep)
	if err != nil {
		return nil, err
	}
	sweeper.Start()
	return sweeper, nil
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	conf := initConfiguration(os.Args[1:])
	cllog.InitLogger(conf.Logger, conf.Production)
	clconfig.DisplayConfiguration(conf, VERSION)

	app := clpage.Init(conf, VERSION, BuildID)
	defer app.Close()

	resolver, err := clidentity.New(conf.Identity, conf.Production)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur identité visiteur")
	}

	r, err := newServer(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur création du serveur")
	}
	clmiddleware.InitMiddleware(r, conf.Production, resolver)
	setRoutes(r, app, resolver)

	sweeper, err := startSweeper(app)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur balayage des accès")
	}
	defer sweeper.Stop()

	log.Info().Msgf("Website démarré sur http://%s", conf.Listen.Website)
	if err := r.Run(conf.Listen.Website); err != nil {
		log.Fatal().Err(err).Msg("Erreur serveur")
	}
}
