package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultEnv           = "dev"
	defaultDBPath        = "./dev.db"
	defaultPort          = "8080"
	defaultMigrationsDir = "migrations"
	defaultLogLevel      = "info"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env           string
	Port          string
	DBPath        string
	MigrationsDir string
	LogLevel      string
	AdminEmail    string
	AdminPassword string
	SessionSecret string
	SeedDemo      bool
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. Keys already present in
// the process environment win over the file.
func LoadFile(path string) Config {
	// Best-effort: production injects real environment variables.
	_ = godotenv.Load(path)

	cfg := Config{
		Env:           getenv("APP_ENV", defaultEnv),
		Port:          getenv("PORT", defaultPort),
		DBPath:        getenv("DB_PATH", defaultDBPath),
		MigrationsDir: getenv("MIGRATIONS_DIR", defaultMigrationsDir),
		LogLevel:      getenv("LOG_LEVEL", defaultLogLevel),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
	}
	cfg.SeedDemo, _ = strconv.ParseBool(os.Getenv("SEED_DEMO"))

	return cfg
}

// IsDev reports whether the app runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev" || c.Env == "development"
}

// Missing lists required keys that are empty.
func (c Config) Missing() []string {
	missing := make([]string, 0)
	if c.AdminEmail == "" {
		missing = append(missing, "ADMIN_EMAIL")
	}
	if c.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	return missing
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
