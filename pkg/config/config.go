package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "OPSCONSOLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "OPSCONSOLE_APP_ENV"
	EnvPort         = "OPSCONSOLE_APP_PORT"
	EnvDBDSN        = "OPSCONSOLE_DB_DSN"
	EnvDBDriver     = "OPSCONSOLE_DB_DRIVER"
	EnvDBHost       = "OPSCONSOLE_DB_HOST"
	EnvDBUser       = "OPSCONSOLE_DB_USER"
	EnvDBName       = "OPSCONSOLE_DB_NAME"
	EnvRedisURL     = "OPSCONSOLE_REDIS_URL"
	EnvShopDomain   = "OPSCONSOLE_COMMERCE_SHOP_DOMAIN"
	EnvShopToken    = "OPSCONSOLE_COMMERCE_ACCESS_TOKEN"
	EnvFulfillKey   = "OPSCONSOLE_FULFILLMENT_API_KEY"
	EnvFulfillSec   = "OPSCONSOLE_FULFILLMENT_API_SECRET"
	EnvCacheBackend = "OPSCONSOLE_CACHE_BACKEND"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
	CacheBackendDB    = "db"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App             AppConfig
	Service         ServiceConfig
	DB              DBConfig
	Redis           RedisConfig
	Commerce        CommerceConfig
	Fulfillment     FulfillmentConfig
	ChangeDetection ChangeDetectionConfig
	Cache           CacheConfig
	PubSub          PubSubConfig
	FeatureFlags    FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cache.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"OPSCONSOLE_APP_ENV" required:"true"`
	Port         string   `envconfig:"OPSCONSOLE_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"OPSCONSOLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"OPSCONSOLE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"OPSCONSOLE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"OPSCONSOLE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"OPSCONSOLE_DB_DSN"`
	Driver string `envconfig:"OPSCONSOLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"OPSCONSOLE_DB_HOST"`
	LegacyPort     int    `envconfig:"OPSCONSOLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"OPSCONSOLE_DB_USER"`
	LegacyPassword string `envconfig:"OPSCONSOLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"OPSCONSOLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"OPSCONSOLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OPSCONSOLE_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"OPSCONSOLE_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"OPSCONSOLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OPSCONSOLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OPSCONSOLE_REDIS_URL"`
	Address      string        `envconfig:"OPSCONSOLE_REDIS_ADDR"`
	Password     string        `envconfig:"OPSCONSOLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"OPSCONSOLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OPSCONSOLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OPSCONSOLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OPSCONSOLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OPSCONSOLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OPSCONSOLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// CommerceConfig points at the commerce platform's Admin GraphQL API.
type CommerceConfig struct {
	ShopDomain  string        `envconfig:"OPSCONSOLE_COMMERCE_SHOP_DOMAIN"`
	AccessToken string        `envconfig:"OPSCONSOLE_COMMERCE_ACCESS_TOKEN"`
	APIVersion  string        `envconfig:"OPSCONSOLE_COMMERCE_API_VERSION" default:"2024-10"`
	Timeout     time.Duration `envconfig:"OPSCONSOLE_COMMERCE_TIMEOUT" default:"30s"`
}

// FulfillmentConfig points at the fulfillment platform's REST API.
type FulfillmentConfig struct {
	BaseURL   string        `envconfig:"OPSCONSOLE_FULFILLMENT_BASE_URL" default:"https://ssapi.shipstation.com"`
	APIKey    string        `envconfig:"OPSCONSOLE_FULFILLMENT_API_KEY"`
	APISecret string        `envconfig:"OPSCONSOLE_FULFILLMENT_API_SECRET"`
	Timeout   time.Duration `envconfig:"OPSCONSOLE_FULFILLMENT_TIMEOUT" default:"30s"`
}

type ChangeDetectionConfig struct {
	Enabled         bool          `envconfig:"OPSCONSOLE_CHANGE_DETECTION_ENABLED" default:"true"`
	IntervalMinutes int           `envconfig:"OPSCONSOLE_CHANGE_DETECTION_INTERVAL_MINUTES" default:"15"`
	HoursToScan     int           `envconfig:"OPSCONSOLE_CHANGE_DETECTION_HOURS_TO_SCAN" default:"24"`
	AutoTag         bool          `envconfig:"OPSCONSOLE_CHANGE_DETECTION_AUTO_TAG" default:"false"`
	MaxOrdersPerRun int           `envconfig:"OPSCONSOLE_CHANGE_DETECTION_MAX_ORDERS_PER_RUN" default:"500"`
	TagName         string        `envconfig:"OPSCONSOLE_CHANGE_DETECTION_TAG_NAME" default:"Order Changed"`
	PageSize        int           `envconfig:"OPSCONSOLE_CHANGE_DETECTION_PAGE_SIZE" default:"100"`
	CallDelay       time.Duration `envconfig:"OPSCONSOLE_CHANGE_DETECTION_CALL_DELAY" default:"1500ms"`
	TagDelay        time.Duration `envconfig:"OPSCONSOLE_CHANGE_DETECTION_TAG_DELAY" default:"500ms"`
	RunInAPI        bool          `envconfig:"OPSCONSOLE_CHANGE_DETECTION_RUN_IN_API" default:"false"`
	TriggerLimit    int           `envconfig:"OPSCONSOLE_CHANGE_DETECTION_TRIGGER_LIMIT" default:"5"`
	TriggerWindow   time.Duration `envconfig:"OPSCONSOLE_CHANGE_DETECTION_TRIGGER_WINDOW" default:"1m"`
}

// Interval returns the scheduler cadence.
func (c ChangeDetectionConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ScanWindow returns the trailing modification window pulled from the fulfillment platform.
func (c ChangeDetectionConfig) ScanWindow() time.Duration {
	if c.HoursToScan <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.HoursToScan) * time.Hour
}

type CacheConfig struct {
	Backend  string `envconfig:"OPSCONSOLE_CACHE_BACKEND" default:"file"`
	FilePath string `envconfig:"OPSCONSOLE_CACHE_FILE_PATH" default:"data/change-cache.json"`
}

type PubSubConfig struct {
	ProjectID        string `envconfig:"OPSCONSOLE_GCP_PROJECT_ID"`
	DiscrepancyTopic string `envconfig:"OPSCONSOLE_PUBSUB_DISCREPANCY_TOPIC"`
}

// Enabled reports whether discrepancy events should be published.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.ProjectID) != "" && strings.TrimSpace(p.DiscrepancyTopic) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"OPSCONSOLE_AUTO_MIGRATE" default:"false"`
}

func (c *CacheConfig) validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case CacheBackendFile:
		if strings.TrimSpace(c.FilePath) == "" {
			return fmt.Errorf("cache file path is required for the %q backend", CacheBackendFile)
		}
	case CacheBackendRedis, CacheBackendDB:
	default:
		return fmt.Errorf("unsupported %s %q", EnvCacheBackend, c.Backend)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	if db.Driver == "" {
		db.Driver = DriverPostgres
	}
	if db.Driver != DriverPostgres && db.Driver != DriverSQLite {
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, db.Driver)
	}
	if db.DSN != "" {
		return nil
	}
	if db.Driver == DriverSQLite {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
