package clpage

import (
	"context"
	"fmt"
	"html/template"
	"littlepage/internal/gormzerologger"
	"littlepage/internal/models/clanalytics"
	"littlepage/internal/models/clconfig"
	"littlepage/internal/models/clgate"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	instance *Littlepage
)

type Littlepage struct {
	Configuration *clconfig.Config
	Db            *gorm.DB
	Redis         *redis.Client
	Gate          *clgate.Gate
	Analytics     *clanalytics.AnalyticsService
	Page          *Page
	Content       template.HTML
	Description   string
	Version       string
	BuildID       string
}

func GetInstance() *Littlepage {
	if instance == nil {
		instance = &Littlepage{}
	}
	return instance
}

// Init ouvre la base, les services et le contenu; toute erreur est fatale
func Init(config *clconfig.Config, version string, buildid string) *Littlepage {
	lp, err := Open(config, version, buildid)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur initialisation")
	}
	instance = lp
	return instance
}

func Open(config *clconfig.Config, version string, buildid string) (*Littlepage, error) {
	lp := &Littlepage{
		Configuration: config,
		Version:       version,
		BuildID:       buildid,
	}

	db, err := OpenDatabase(config.Database, gormzerologger.Level(config.Logger.Level, config.Production))
	if err != nil {
		return nil, err
	}
	lp.Db = db

	lp.initRedis()
	if err := lp.initServices(); err != nil {
		return nil, err
	}
	if err := lp.initContent(); err != nil {
		return nil, err
	}
	return lp, nil
}

// OpenDatabase ouvre sqlite ou mysql avec le logger GORM zerolog
func OpenDatabase(conf clconfig.DatabaseConfig, level string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormzerologger.New(level),
	}

	var db *gorm.DB
	var err error
	switch conf.Db {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(conf.Path), gormConfig)
	case "mysql":
		db, err = gorm.Open(mysql.Open(conf.Dsn), gormConfig)
	default:
		err = fmt.Errorf("le type de database doit etre sqlite ou mysql")
	}
	if err != nil {
		return nil, fmt.Errorf("erreur connexion base de données: %w", err)
	}

	if conf.Db == "sqlite" {
		// ":memory:" n'existe que pour sa propre connexion
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func (lp *Littlepage) initRedis() {
	conf := lp.Configuration.Analytics.Redis
	if conf.Addr == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr: conf.Addr,
		DB:   conf.Db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", conf.Addr).Msg("Redis injoignable, compteurs temps réel désactivés")
		client.Close()
		return
	}
	lp.Redis = client
}

func (lp *Littlepage) initServices() error {
	conf := lp.Configuration

	store := clgate.NewGormStore(lp.Db)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("erreur migration: %w", err)
	}
	lp.Gate = clgate.New(store, clgate.Policy{
		Trial:  conf.Gate.Trial,
		Unlock: conf.Gate.Unlock,
	}, conf.Gate.Hash)

	lp.Analytics = clanalytics.NewAnalyticsService(lp.Db, lp.Redis, conf.Analytics.CacheTTL)
	if err := lp.Analytics.Migrate(); err != nil {
		return fmt.Errorf("erreur migration: %w", err)
	}

	lp.Page = NewPage(lp.Gate, lp.Analytics)
	return nil
}

func (lp *Littlepage) initContent() error {
	markdown, err := LoadContent(lp.Configuration.Page.Content)
	if err != nil {
		return fmt.Errorf("erreur lecture du contenu: %w", err)
	}

	lp.Content = ConvertMarkdownToHTML(NewMarkdown(), markdown)
	lp.Description = lp.Configuration.Page.Description
	if lp.Description == "" {
		lp.Description = Excerpt(markdown)
	}
	return nil
}

// Close ferme la base et redis
func (lp *Littlepage) Close() {
	if lp.Redis != nil {
		lp.Redis.Close()
	}
	if lp.Db != nil {
		if sqlDB, err := lp.Db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
