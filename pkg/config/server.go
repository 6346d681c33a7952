package config

import "time"

// ServerConfig holds runtime configuration for the deployment server.
type ServerConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	Workdir             string
	CloneTimeout        time.Duration
	InstallTimeout      time.Duration
	BuildTimeout        time.Duration
	MaxBuildOutputBytes int

	// TokenSecret seals and unseals project clone credentials.
	TokenSecret string
	// WebhookSecret verifies push-event signatures.
	WebhookSecret string

	StorageServiceURL string
	ENSServiceURL     string
	UploadTimeout     time.Duration
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("SERVER_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://filify:filify@db:5432/filify?sslmode=disable"),
		MigrationsDir: GetString("MIGRATIONS_DIR", "migrations"),

		Workdir:             GetString("BUILD_WORKDIR", "/tmp/filify"),
		CloneTimeout:        time.Duration(GetInt("CLONE_TIMEOUT_SECONDS", 120)) * time.Second,
		InstallTimeout:      time.Duration(GetInt("INSTALL_TIMEOUT_SECONDS", 300)) * time.Second,
		BuildTimeout:        time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		MaxBuildOutputBytes: GetInt("MAX_BUILD_OUTPUT_BYTES", 2<<20),

		TokenSecret:   GetString("TOKEN_SECRET", ""),
		WebhookSecret: GetString("WEBHOOK_SECRET", ""),

		StorageServiceURL: GetString("STORAGE_SERVICE_URL", "http://localhost:4100"),
		ENSServiceURL:     GetString("ENS_SERVICE_URL", "http://localhost:4200"),
		UploadTimeout:     time.Duration(GetInt("UPLOAD_TIMEOUT_SECONDS", 300)) * time.Second,
	}
}
