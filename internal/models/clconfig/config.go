package clconfig

import (
	"fmt"
	"log/syslog"
	"os"
	"strings"
	"time"

	"github.com/andskur/argon2-hashing"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTrial       = 60 * time.Second
	DefaultUnlock      = 24 * time.Hour
	DefaultSecret      = "vip24"
	DefaultSweep       = "@every 1m"
	DefaultIdentityTTL = 365 * 24 * time.Hour
	DefaultStatsTTL    = 10 * time.Second
)

type Config struct {
	TrustedProxies  []string        `yaml:"trustedproxies"`
	TrustedPlatform string          `yaml:"trustedplatform"`
	Database        DatabaseConfig  `yaml:"database"`
	Production      bool            `yaml:"production"`
	Listen          ListenConfig    `yaml:"listen"`
	Logger          LoggerConfig    `yaml:"logger"`
	Analytics       AnalyticsConfig `yaml:"analytics"`
	Gate            GateConfig      `yaml:"gate"`
	Identity        IdentityConfig  `yaml:"identity"`
	Page            PageConfig      `yaml:"page"`
}

type AnalyticsConfig struct {
	Redis    RedisConfig   `yaml:"redis"`
	CacheTTL time.Duration `yaml:"cachettl"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

// GateConfig règle l'essai gratuit et le déverrouillage par mot de passe
type GateConfig struct {
	Trial  time.Duration `yaml:"trial"`
	Unlock time.Duration `yaml:"unlock"`
	Secret string        `yaml:"secret"`
	Hash   string        `yaml:"hash"`
	Sweep  string        `yaml:"sweep"`
}

// IdentityConfig choisit le transport de l'identifiant visiteur: cookie, query ou session
type IdentityConfig struct {
	Carrier string        `yaml:"carrier"`
	Key     string        `yaml:"key"`
	Secret  string        `yaml:"secret"`
	TTL     time.Duration `yaml:"ttl"`
}

type PageConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Content     string `yaml:"content"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
}

type DatabaseConfig struct {
	Db   string `yaml:"db"`
	Path string `yaml:"path"`
	Dsn  string `yaml:"dsn"`
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./visit_stats.db",
		},
		Production: false,
		Logger: LoggerConfig{
			Level: "info",
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
		},
		Analytics: AnalyticsConfig{
			CacheTTL: DefaultStatsTTL,
		},
		Gate: GateConfig{
			Trial:  DefaultTrial,
			Unlock: DefaultUnlock,
			Secret: DefaultSecret,
			Sweep:  DefaultSweep,
		},
		Identity: IdentityConfig{
			Carrier: "cookie",
			Key:     "visitor_id",
			TTL:     DefaultIdentityTTL,
		},
		Page: PageConfig{
			Title:       "Ma petite page",
			Description: "Une page personnelle avec un compteur de visites",
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.Database.Path = "/var/lib/littlepage/visit_stats.db"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/littlepage/littlepage.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/littlepage/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %w", err)
	}

	return &config, nil
}

// LoadAndConvertConfig charge, complète et valide la configuration.
// Un secret en clair dans le fichier est remplacé par son hash argon2.
func LoadAndConvertConfig(configFile string) (*Config, error) {
	conf, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("erreur chargement config: %w", err)
	}

	if conf.Gate.Secret != "" {
		if err := conf.HashSecret(); err != nil {
			return nil, err
		}
		if err := WriteConfigYaml(configFile, conf); err != nil {
			return nil, err
		}
	}

	// .env optionnel, les variables déjà définies restent prioritaires
	_ = godotenv.Load()
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := conf.ApplyDefaults(); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// HashSecret remplace gate.secret par son hash argon2 dans gate.hash
func (conf *Config) HashSecret() error {
	hash, err := argon2.GenerateFromPassword([]byte(conf.Gate.Secret), argon2.DefaultParams)
	if err != nil {
		return fmt.Errorf("erreur hash du secret: %w", err)
	}
	conf.Gate.Hash = string(hash)
	conf.Gate.Secret = ""
	return nil
}

// ApplyEnv applique les surcharges LITTLEPAGE_*, jamais réécrites dans le fichier
func (conf *Config) ApplyEnv() error {
	if v := os.Getenv("LITTLEPAGE_LISTEN"); v != "" {
		conf.Listen.Website = v
	}
	if v := os.Getenv("LITTLEPAGE_DATABASE_PATH"); v != "" {
		conf.Database.Path = v
	}
	if v := os.Getenv("LITTLEPAGE_REDIS_ADDR"); v != "" {
		conf.Analytics.Redis.Addr = v
	}
	if v := os.Getenv("LITTLEPAGE_IDENTITY_SECRET"); v != "" {
		conf.Identity.Secret = v
	}
	if v := os.Getenv("LITTLEPAGE_GATE_SECRET"); v != "" {
		conf.Gate.Secret = v
		return conf.HashSecret()
	}
	return nil
}

func (conf *Config) ApplyDefaults() error {
	if conf.Database.Db == "" {
		conf.Database.Db = "sqlite"
	}
	if conf.Listen.Website == "" {
		conf.Listen.Website = "localhost:8080"
	}
	if strings.HasPrefix(conf.Listen.Website, ":") {
		conf.Listen.Website = "localhost" + conf.Listen.Website
	}
	if conf.Gate.Trial <= 0 {
		conf.Gate.Trial = DefaultTrial
	}
	if conf.Gate.Unlock <= 0 {
		conf.Gate.Unlock = DefaultUnlock
	}
	if conf.Gate.Sweep == "" {
		conf.Gate.Sweep = DefaultSweep
	}
	if conf.Gate.Hash == "" {
		if conf.Gate.Secret == "" {
			conf.Gate.Secret = DefaultSecret
		}
		if err := conf.HashSecret(); err != nil {
			return err
		}
	}
	if conf.Identity.Carrier == "" {
		conf.Identity.Carrier = "cookie"
	}
	if conf.Identity.Key == "" {
		conf.Identity.Key = "visitor_id"
	}
	if conf.Identity.TTL <= 0 {
		conf.Identity.TTL = DefaultIdentityTTL
	}
	if conf.Analytics.CacheTTL <= 0 {
		conf.Analytics.CacheTTL = DefaultStatsTTL
	}
	if conf.Page.Title == "" {
		conf.Page.Title = "littlepage"
	}
	return nil
}

func (conf *Config) Validate() error {
	switch conf.Database.Db {
	case "sqlite":
		if conf.Database.Path == "" {
			return fmt.Errorf("database.path ne peut pas être vide")
		}
	case "mysql":
		if conf.Database.Dsn == "" {
			return fmt.Errorf("database.dsn ne peut pas être vide")
		}
	default:
		return fmt.Errorf("le type de database doit etre sqlite ou mysql")
	}

	switch conf.Identity.Carrier {
	case "cookie", "session":
	case "query":
		if conf.Identity.Secret == "" {
			log.Warn().Msg("identity.secret vide, les jetons vid seront invalidés au redémarrage")
		}
	default:
		return fmt.Errorf("identity.carrier doit etre cookie, query ou session")
	}

	return nil
}

func CreateExample(shouldCreateExample bool, configFile string) {
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "littlepage.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %w", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	fmt.Println("⚠️  gate.secret sera automatiquement hash en argon2 dans gate.hash au premier lancement")
	return nil
}

func DisplayConfiguration(config *Config, version string) {
	logPrintf("Littlepage version %s", version)
	logPrintf("Mode Production %v", config.Production)

	logPrintf("Database")
	if config.Database.Db == "sqlite" {
		logPrintf("  • Type sqlite")
		logPrintf("  • Path %s", config.Database.Path)
	}
	if config.Database.Db == "mysql" {
		logPrintf("  • Type mysql")
	}
	if config.Analytics.Redis.Addr != "" {
		logPrintf("  • Compteurs temps réel redis %s", config.Analytics.Redis.Addr)
	} else {
		logPrintf("  • Compteurs temps réel désactivés")
	}

	logPrintf("Accès")
	logPrintf("  • Essai gratuit %s", config.Gate.Trial)
	logPrintf("  • Déverrouillage %s", config.Gate.Unlock)
	logPrintf("  • Balayage %s", config.Gate.Sweep)
	logPrintf("  • Identité via %s (%s)", config.Identity.Carrier, config.Identity.Key)

	logPrintf("Logger en level %s", config.Logger.Level)
	if config.Logger.File.Enable {
		logPrintf("  Log en fichier activé")
		logPrintf("  • Path %s", config.Logger.File.Path)
		logPrintf("  • Max size %d", config.Logger.File.MaxSize)
		logPrintf("  • Max age %d", config.Logger.File.MaxAge)
		logPrintf("  • Max backup %d", config.Logger.File.MaxBackups)
		logPrintf("  • Compression %v", config.Logger.File.Compress)
	} else {
		logPrintf("  Log en fichier désactivé")
	}
	if config.Logger.Syslog.Enable {
		logPrintf("  Log en syslog activé")
		logPrintf("  • Protocol %s", config.Logger.Syslog.Protocol)
		logPrintf("  • Address %s", config.Logger.Syslog.Address)
		logPrintf("  • Tag %s", config.Logger.Syslog.Tag)
	} else {
		logPrintf("  Log en syslog désactivé")
	}
}

// Info logue avec printf
func logPrintf(format string, a ...any) {
	log.Info().Msg(fmt.Sprintf(format, a...))
}
