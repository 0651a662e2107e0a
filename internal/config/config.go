package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	Vizzle    VizzleConfig
	Poll      PollConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig holds the try-on history database. An empty DSN disables
// history persistence.
type PostgresConfig struct {
	DSN string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	JobsPerHour    int
	UploadsPerHour int
	SafetyPerMin   int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// VizzleConfig points at the remote try-on job service.
type VizzleConfig struct {
	BaseURL        string
	Timeout        int   // seconds, per request
	MaxUploadBytes int64 // caller-enforced media limit
	// MediaHosts restricts server-side media downloads to these hosts and their
	// subdomains. Empty allows any public host.
	MediaHosts []string
	// AllowPrivateMedia permits downloads from loopback and private networks
	AllowPrivateMedia bool
}

// PollConfig controls job status polling.
type PollConfig struct {
	Interval             time.Duration
	MaxWait              time.Duration
	MaxConsecutiveErrors int
}

// StorageConfig controls the size-guarded state store.
type StorageConfig struct {
	AdmissionThreshold int // decoded bytes
	TTL                time.Duration
	KeyPrefix          string
	// VolatileTTL drops in-memory values unread for this long
	VolatileTTL time.Duration
	// SessionIdleTTL drops a user's idle orchestrators after this long
	SessionIdleTTL time.Duration
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string // none, stdout, otlp
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.uploads_per_hour", "RATELIMIT_UPLOADS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.safety_per_min", "RATELIMIT_SAFETY_PER_MIN")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("vizzle.base_url", "VIZZLE_API_BASE_URL")
	_ = viper.BindEnv("vizzle.timeout", "VIZZLE_API_TIMEOUT")
	_ = viper.BindEnv("vizzle.max_upload_bytes", "VIZZLE_MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("vizzle.media_hosts", "VIZZLE_MEDIA_HOSTS")
	_ = viper.BindEnv("vizzle.allow_private_media", "VIZZLE_ALLOW_PRIVATE_MEDIA")
	_ = viper.BindEnv("poll.interval", "POLL_INTERVAL")
	_ = viper.BindEnv("poll.max_wait", "POLL_MAX_WAIT")
	_ = viper.BindEnv("poll.max_consecutive_errors", "POLL_MAX_CONSECUTIVE_ERRORS")
	_ = viper.BindEnv("storage.admission_threshold", "STORAGE_ADMISSION_THRESHOLD")
	_ = viper.BindEnv("storage.ttl", "STORAGE_TTL")
	_ = viper.BindEnv("storage.key_prefix", "STORAGE_KEY_PREFIX")
	_ = viper.BindEnv("storage.volatile_ttl", "STORAGE_VOLATILE_TTL")
	_ = viper.BindEnv("storage.session_idle_ttl", "STORAGE_SESSION_IDLE_TTL")
	_ = viper.BindEnv("telemetry.service_name", "OTEL_SERVICE_NAME")
	_ = viper.BindEnv("telemetry.exporter", "OTEL_TRACES_EXPORTER")
	_ = viper.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("telemetry.otlp_insecure", "OTEL_EXPORTER_OTLP_INSECURE")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.jobs_per_hour", 30)
	viper.SetDefault("ratelimit.uploads_per_hour", 100)
	viper.SetDefault("ratelimit.safety_per_min", 30)

	// Remote job service defaults
	viper.SetDefault("vizzle.base_url", "https://vizzle-backend-vvc6.onrender.com")
	viper.SetDefault("vizzle.timeout", 60)
	viper.SetDefault("vizzle.max_upload_bytes", 2*1024*1024)
	viper.SetDefault("vizzle.media_hosts", []string{})
	viper.SetDefault("vizzle.allow_private_media", false)

	// Polling defaults
	viper.SetDefault("poll.interval", "3s")
	viper.SetDefault("poll.max_wait", "180s")
	viper.SetDefault("poll.max_consecutive_errors", 3)

	// State store defaults
	viper.SetDefault("storage.admission_threshold", 1024*1024)
	viper.SetDefault("storage.ttl", "720h")
	viper.SetDefault("storage.key_prefix", "studio")
	viper.SetDefault("storage.volatile_ttl", "24h")
	viper.SetDefault("storage.session_idle_ttl", "30m")

	// Telemetry defaults
	viper.SetDefault("telemetry.service_name", "vizzle-studio")
	viper.SetDefault("telemetry.exporter", "none")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN: viper.GetString("postgres.dsn"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour:    viper.GetInt("ratelimit.jobs_per_hour"),
			UploadsPerHour: viper.GetInt("ratelimit.uploads_per_hour"),
			SafetyPerMin:   viper.GetInt("ratelimit.safety_per_min"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Vizzle: VizzleConfig{
			BaseURL:           strings.TrimRight(viper.GetString("vizzle.base_url"), "/"),
			Timeout:           viper.GetInt("vizzle.timeout"),
			MaxUploadBytes:    viper.GetInt64("vizzle.max_upload_bytes"),
			MediaHosts:        viper.GetStringSlice("vizzle.media_hosts"),
			AllowPrivateMedia: viper.GetBool("vizzle.allow_private_media"),
		},
		Poll: PollConfig{
			Interval:             viper.GetDuration("poll.interval"),
			MaxWait:              viper.GetDuration("poll.max_wait"),
			MaxConsecutiveErrors: viper.GetInt("poll.max_consecutive_errors"),
		},
		Storage: StorageConfig{
			AdmissionThreshold: viper.GetInt("storage.admission_threshold"),
			TTL:                viper.GetDuration("storage.ttl"),
			KeyPrefix:          viper.GetString("storage.key_prefix"),
			VolatileTTL:        viper.GetDuration("storage.volatile_ttl"),
			SessionIdleTTL:     viper.GetDuration("storage.session_idle_ttl"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  viper.GetString("telemetry.service_name"),
			Exporter:     viper.GetString("telemetry.exporter"),
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
			OTLPInsecure: viper.GetBool("telemetry.otlp_insecure"),
		},
	}

	return cfg, nil
}
