package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr     string `envconfig:"ADDR" default:":4443"`
	CertFile string `envconfig:"CERT_FILE"`
	CertKey  string `envconfig:"CERT_KEY"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`

	AWSRegion           string `envconfig:"AWS_REGION" default:"us-east-1"`
	S3Endpoint          string `envconfig:"AWS_S3_ENDPOINT"` // Set for S3 compatible storage such as R2.
	S3ForcePathStyle    bool   `envconfig:"AWS_S3_FORCE_PATH_STYLE" default:"false"`
	VODBucket           string `envconfig:"AWS_S3_VOD_BUCKET" required:"true"`
	PublicBaseURL       string `envconfig:"OBJECT_STORAGE_PUBLIC_BASE_URL"`
	SagaRunsTable       string `envconfig:"AWS_DB_SAGA_RUNS_TABLE"` // Empty disables idempotency keys.
	JWTSecret           string `envconfig:"JWT_SECRET" required:"true"`
	MaxRequestSize      int64  `envconfig:"MAX_REQUEST_SIZE" default:"524288000"`
	MaxConcurrentUpload int    `envconfig:"SAGA_MAX_CONCURRENT_UPLOADS" default:"4"`

	CallTimeout   time.Duration `envconfig:"SAGA_CALL_TIMEOUT" default:"30s"`
	UploadTimeout time.Duration `envconfig:"SAGA_UPLOAD_TIMEOUT" default:"2m"`
}

// Load the configuration from the environment. Variables from the env file,
// when it exists, never override the ones already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env vars: %w", err)
	}
	if cfg.MaxConcurrentUpload < 1 {
		return nil, fmt.Errorf("SAGA_MAX_CONCURRENT_UPLOADS must be at least 1, got %d", cfg.MaxConcurrentUpload)
	}
	return &cfg, nil
}
