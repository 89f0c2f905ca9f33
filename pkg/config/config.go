package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Media        MediaConfig
	Detection    DetectionConfig
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Detection.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SKEWERPOS_APP_ENV" required:"true"`
	Port         string `envconfig:"SKEWERPOS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SKEWERPOS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SKEWERPOS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"SKEWERPOS_DB_DSN"`
	Driver     string `envconfig:"SKEWERPOS_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"SKEWERPOS_SQLITE_PATH" default:"skewerpos.db"`

	LegacyHost     string `envconfig:"SKEWERPOS_DB_HOST"`
	LegacyPort     int    `envconfig:"SKEWERPOS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SKEWERPOS_DB_USER"`
	LegacyPassword string `envconfig:"SKEWERPOS_DB_PASSWORD"`
	LegacyName     string `envconfig:"SKEWERPOS_DB_NAME"`
	LegacySSLMode  string `envconfig:"SKEWERPOS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SKEWERPOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SKEWERPOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SKEWERPOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SKEWERPOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"SKEWERPOS_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SKEWERPOS_REDIS_URL"`
	Address      string        `envconfig:"SKEWERPOS_REDIS_ADDR"`
	Password     string        `envconfig:"SKEWERPOS_REDIS_PASSWORD"`
	DB           int           `envconfig:"SKEWERPOS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SKEWERPOS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SKEWERPOS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SKEWERPOS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SKEWERPOS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SKEWERPOS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SKEWERPOS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SKEWERPOS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SKEWERPOS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SKEWERPOS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SKEWERPOS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"SKEWERPOS_GCS_BUCKET_NAME" required:"true"`
	PublicBaseURL string `envconfig:"SKEWERPOS_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
	SlipPrefix    string `envconfig:"SKEWERPOS_GCS_SLIP_PREFIX" default:"slips"`
}

type PubSubConfig struct {
	SettlementTopic string `envconfig:"SKEWERPOS_PUBSUB_SETTLEMENT_TOPIC"`
}

type MediaConfig struct {
	MaxUploadMB      int     `envconfig:"SKEWERPOS_MAX_UPLOAD_MB" default:"20"`
	ImageMaxBytes    int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_MAX_BYTES" default:"1572864"`
	ImageMaxDim      int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_MAX_DIM" default:"1920"`
	ImageMinDim      int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_MIN_DIM" default:"640"`
	ImageQuality     int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_QUALITY" default:"85"`
	ImageQualityMin  int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_QUALITY_MIN" default:"55"`
	ImageQualityStep int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_QUALITY_STEP" default:"10"`
	ImageShrinkRatio float64 `envconfig:"SKEWERPOS_MEDIA_IMAGE_SHRINK_RATIO" default:"0.85"`
	ImageMaxPixels   int     `envconfig:"SKEWERPOS_MEDIA_IMAGE_MAX_PIXELS" default:"40000000"`
}

// MaxUploadBytes converts the configured upload ceiling to bytes.
func (m MediaConfig) MaxUploadBytes() int64 {
	if m.MaxUploadMB <= 0 {
		return 0
	}
	return int64(m.MaxUploadMB) * 1024 * 1024
}

type DetectionConfig struct {
	Provider     string        `envconfig:"SKEWERPOS_DETECTION_PROVIDER" default:"http"`
	Endpoint     string        `envconfig:"SKEWERPOS_DETECTION_ENDPOINT"`
	Timeout      time.Duration `envconfig:"SKEWERPOS_DETECTION_TIMEOUT" default:"60s"`
	OpenAIAPIKey string        `envconfig:"SKEWERPOS_OPENAI_API_KEY"`
	OpenAIModel  string        `envconfig:"SKEWERPOS_OPENAI_MODEL" default:"gpt-4o"`
}

func (d DetectionConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(d.Provider)) {
	case DetectionProviderHTTP:
		if strings.TrimSpace(d.Endpoint) == "" {
			return fmt.Errorf("%s is required for the http detection provider", EnvDetectionEndpoint)
		}
	case DetectionProviderOpenAI:
		if strings.TrimSpace(d.OpenAIAPIKey) == "" {
			return fmt.Errorf("%s is required for the openai detection provider", EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("unsupported detection provider %q", d.Provider)
	}
	return nil
}

type SettlementConfig struct {
	LockTTL    time.Duration `envconfig:"SKEWERPOS_SETTLEMENT_LOCK_TTL" default:"30s"`
	MaxPersons int           `envconfig:"SKEWERPOS_SPLIT_MAX_PERSONS" default:"50"`
}

// RateLimitConfig throttles the detection endpoint, which fans out to a paid
// vision provider. A zero limit disables the check.
type RateLimitConfig struct {
	DetectionWindow        time.Duration `envconfig:"SKEWERPOS_DETECTION_RATE_WINDOW" default:"1m"`
	DetectionTerminalLimit int           `envconfig:"SKEWERPOS_DETECTION_RATE_LIMIT" default:"20"`
	DetectionIPLimit       int           `envconfig:"SKEWERPOS_DETECTION_RATE_IP_LIMIT" default:"60"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"SKEWERPOS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
