package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// Config aggregates runtime configuration for the drop24 API.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	MinIO     MinIOConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Upload    UploadConfig
	Retention RetentionConfig
	CORS      CORSConfig
	Log       LogConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int `validate:"min=1,max=65535"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	Database string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns int32  `validate:"min=0"`
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return p.url("postgres")
}

// MigrateURL returns the DSN in the pgx5:// scheme understood by golang-migrate.
func (p PostgresConfig) MigrateURL() string {
	return p.url("pgx5")
}

func (p PostgresConfig) url(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	Bucket          string `validate:"required"`
	UseSSL          bool
	Region          string
	// PublicURL is the externally reachable base for object URLs. When empty the
	// URL is built from the endpoint and bucket.
	PublicURL string
	// Folder prefixes every object key.
	Folder        string
	Timeout       time.Duration `validate:"gt=0"`
	DeleteRetries int           `validate:"min=0,max=10"`
	PresignTTL    time.Duration `validate:"gt=0"`
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string `validate:"required,min=16"`
	RefreshTokenSecret string `validate:"required,min=16"`
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	// JWKSURL enables verification of tokens issued by an external identity
	// provider in addition to locally issued ones.
	JWKSURL         string `validate:"omitempty,url"`
	JWKSIssuer      string
	JWKSRefresh     time.Duration
	TokenCacheSize  int `validate:"min=0"`
	TokenCacheTTL   time.Duration
	ClockSkewLeeway time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string `validate:"startswith=/"`
}

// UploadConfig controls what the upload pipeline accepts.
type UploadConfig struct {
	MaxSize int64 `validate:"gt=0"`
	// AllowedMIME holds exact types ("application/pdf") or family prefixes ("image/").
	AllowedMIME []string `validate:"min=1"`
	TempDir     string
}

// RetentionConfig parameterizes the expiry sweep.
type RetentionConfig struct {
	Enabled bool
	Window  time.Duration `validate:"gt=0"`
	Cron    string        `validate:"required"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	Format     string `validate:"oneof=json console"`
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var defaultAllowedMIME = []string{
	"image/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"application/zip",
	"application/x-rar-compressed",
	"application/vnd.rar",
	"application/x-7z-compressed",
}

// Load reads configuration values from environment variables, applying defaults.
// Required credentials have no defaults; their absence fails validation.
func Load() (Config, error) {
	env := &envReader{}
	cfg := Config{
		Server: ServerConfig{
			Host:         env.getString("DROP24_API_HOST", "0.0.0.0"),
			Port:         env.getInt("DROP24_API_PORT", 5000),
			ReadTimeout:  env.getDuration("DROP24_API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: env.getDuration("DROP24_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  env.getDuration("DROP24_API_IDLE_TIMEOUT", 120*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     env.getString("POSTGRES_HOST", "localhost"),
			Port:     env.getInt("POSTGRES_PORT", 5432),
			User:     env.getString("POSTGRES_USER", "drop24_app"),
			Password: env.getString("POSTGRES_PASSWORD", ""),
			Database: env.getString("POSTGRES_DB", "drop24"),
			SSLMode:  strings.ToLower(env.getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns: int32(env.getInt("POSTGRES_MAX_CONNS", 10)),
		},
		MinIO: MinIOConfig{
			Endpoint:        env.getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     env.getString("MINIO_ROOT_USER", ""),
			SecretAccessKey: env.getString("MINIO_ROOT_PASSWORD", ""),
			Bucket:          env.getString("MINIO_BUCKET", "drop24"),
			UseSSL:          env.getBool("MINIO_USE_SSL", false),
			Region:          env.getString("MINIO_REGION", ""),
			PublicURL:       strings.TrimSuffix(env.getString("MINIO_PUBLIC_URL", ""), "/"),
			Folder:          strings.Trim(env.getString("MINIO_FOLDER", "drop24"), "/"),
			Timeout:         env.getDuration("STORAGE_TIMEOUT", 30*time.Second),
			DeleteRetries:   env.getInt("STORAGE_DELETE_RETRIES", 2),
			PresignTTL:      env.getDuration("STORAGE_PRESIGN_TTL", 15*time.Minute),
		},
		Auth: loadAuthConfig(env),
		Metrics: MetricsConfig{
			PrometheusPath: env.getString("DROP24_METRICS_PATH", "/metrics"),
		},
		Upload: UploadConfig{
			MaxSize:     env.getBytes("UPLOAD_MAX_SIZE", 50*1000*1000),
			AllowedMIME: env.getList("UPLOAD_ALLOWED_MIME", defaultAllowedMIME),
			TempDir:     env.getString("UPLOAD_TEMP_DIR", os.TempDir()),
		},
		Retention: RetentionConfig{
			Enabled: env.getBool("RETENTION_ENABLED", true),
			Window:  env.getDuration("RETENTION_WINDOW", time.Hour),
			Cron:    env.getString("RETENTION_SWEEP_CRON", "0 * * * *"),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		},
		Log: LogConfig{
			Level:      strings.ToLower(env.getString("LOG_LEVEL", "info")),
			Format:     strings.ToLower(env.getString("LOG_FORMAT", "json")),
			File:       env.getString("LOG_FILE", ""),
			MaxSizeMB:  env.getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: env.getInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: env.getInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if len(env.problems) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(env.problems, ", "))
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports every offending variable at once.
func Validate(cfg Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}

// envReader reads typed environment variables. A variable that is set but
// does not parse is recorded as a problem instead of falling back.
type envReader struct {
	problems []string
}

func (e *envReader) invalid(key, val, want string) {
	e.problems = append(e.problems, fmt.Sprintf("%s (%q is not %s)", key, val, want))
}

func (e *envReader) getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func (e *envReader) getInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		e.invalid(key, val, "an integer")
		return fallback
	}
	return parsed
}

func (e *envReader) getBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "t", "yes", "y":
		return true
	case "0", "false", "f", "no", "n":
		return false
	}
	e.invalid(key, val, "a boolean")
	return fallback
}

func (e *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		e.invalid(key, val, "a duration such as 90m or 24h")
		return fallback
	}
	return parsed
}

// getBytes accepts human sizes such as "50MB", "20 MiB" or a plain byte count.
func (e *envReader) getBytes(key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := humanize.ParseBytes(val)
	if err != nil || parsed == 0 {
		e.invalid(key, val, "a positive size")
		return fallback
	}
	return int64(parsed)
}

func (e *envReader) getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}

func loadAuthConfig(env *envReader) AuthConfig {
	cost := env.getInt("DROP24_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		AccessTokenSecret:  env.getString("DROP24_JWT_SECRET", ""),
		RefreshTokenSecret: env.getString("DROP24_JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:     env.getDuration("DROP24_AUTH_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:    env.getDuration("DROP24_AUTH_REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         cost,
		JWKSURL:            env.getString("DROP24_AUTH_JWKS_URL", ""),
		JWKSIssuer:         env.getString("DROP24_AUTH_JWKS_ISSUER", ""),
		JWKSRefresh:        env.getDuration("DROP24_AUTH_JWKS_REFRESH", 15*time.Minute),
		TokenCacheSize:     env.getInt("DROP24_AUTH_TOKEN_CACHE_SIZE", 1024),
		TokenCacheTTL:      env.getDuration("DROP24_AUTH_TOKEN_CACHE_TTL", time.Minute),
		ClockSkewLeeway:    env.getDuration("DROP24_AUTH_LEEWAY", 30*time.Second),
	}
}
