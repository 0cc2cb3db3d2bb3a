// Package config reads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvFiles are loaded, in order, before reading the environment. Variables
// already set win over file values, and earlier files win over later ones.
var EnvFiles = []string{".env.local", ".env"}

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	NATSURL    string
	CORSOrigin string
	AdminToken string

	BaseURL       string
	ShareTemplate string
	CacheDir      string

	CatalogMaxAge time.Duration
	SessionTTL    time.Duration
	SessionLimit  int

	RecommendedFraction   float64
	AssumedFixtureCeiling int

	ShareRatePerSec float64
	ShareBurst      int
}

// Load reads .env files if present, then the environment. Malformed numbers
// and durations fall back to their defaults.
func Load() Config {
	for _, f := range EnvFiles {
		_ = godotenv.Load(f)
	}
	return Config{
		Port:       envOr("PORT", "8080"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		NATSURL:    os.Getenv("NATS_URL"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		AdminToken: os.Getenv("ADMIN_TOKEN"),

		BaseURL:       envOr("BASE_URL", "https://motolight.app/"),
		ShareTemplate: envOr("SHARE_TEMPLATE", "https://wa.me/?text=%s"),
		CacheDir:      envOr("CACHE_DIR", "/tmp/motolight-cache"),

		CatalogMaxAge: envDuration("CATALOG_MAX_AGE", 24*time.Hour),
		SessionTTL:    envDuration("SESSION_TTL", 2*time.Hour),
		SessionLimit:  envInt("SESSION_LIMIT", 10000),

		RecommendedFraction:   envFloat("RECOMMENDED_FRACTION", 0.9),
		AssumedFixtureCeiling: envInt("ASSUMED_FIXTURE_CEILING", 40),

		ShareRatePerSec: envFloat("SHARE_RATE_PER_SEC", 2),
		ShareBurst:      envInt("SHARE_BURST", 5),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(envOr(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(envOr(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(envOr(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
