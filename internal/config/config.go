// Package config centralizes environment-variable configuration, mirroring
// beszel's internal/hub.GetEnv (prefix fallback) but collected into one
// typed Config value injected at startup instead of read ad-hoc throughout
// the codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix mirrors beszel's "BESZEL_HUB_" convention for this service.
const envPrefix = "OUTAGEWATCH_HUB_"

// GetEnv retrieves an environment variable with the service prefix, falling
// back to the unprefixed key, exactly as beszel's internal/hub.GetEnv does.
func GetEnv(key string) (value string, exists bool) {
	if value, exists = os.LookupEnv(envPrefix + key); exists {
		return value, exists
	}
	return os.LookupEnv(key)
}

// Config holds every environment-derived setting named in spec §6.
type Config struct {
	SensorAPIKey string
	APIPort      int
	DBPath       string

	SensorTimeout  time.Duration // T_stale
	CheckInterval  time.Duration // T_tick
	ThresholdUp    float64
	ThresholdDown  float64

	BroadcastRatePerSec  float64
	BroadcastConcurrency int
	BroadcastMaxRetries  int

	AdminIDs map[string]struct{}

	DeployFreezeMinutes int

	LeaseTTL        time.Duration
	ReclaimInterval time.Duration

	SensorsConfigPath string
	DataDir           string

	AdminJWTSecret string
	AdminTokenTTL  time.Duration
}

// Load reads Config from the environment, applying the defaults spec.md §6
// specifies. dataDir is the pocketbase data directory, used to locate
// sensors.yml (see internal/sensors).
func Load(dataDir string) (*Config, error) {
	c := &Config{
		APIPort:              envInt("API_PORT", 8081),
		DBPath:               envStr("DB_PATH", ""),
		SensorTimeout:        time.Duration(envInt("SENSOR_TIMEOUT_SEC", 150)) * time.Second,
		CheckInterval:        time.Duration(envInt("CHECK_INTERVAL_SEC", 15)) * time.Second,
		ThresholdUp:          0.5,
		ThresholdDown:        0.4,
		BroadcastRatePerSec:  envFloat("BROADCAST_RATE_PER_SEC", 20),
		BroadcastConcurrency: envInt("BROADCAST_CONCURRENCY", 8),
		BroadcastMaxRetries:  envInt("BROADCAST_MAX_RETRIES", 1),
		AdminIDs:             parseIDSet(envStr("ADMIN_IDS", "")),
		DeployFreezeMinutes:  envInt("DEPLOY_FREEZE_MINUTES", 20),
		LeaseTTL:             time.Duration(envInt("JOB_LEASE_TTL_SEC", 60)) * time.Second,
		ReclaimInterval:      30 * time.Second,
		DataDir:              dataDir,
		AdminTokenTTL:        time.Duration(envInt("ADMIN_TOKEN_TTL_MIN", 60)) * time.Minute,
	}
	c.AdminJWTSecret, _ = GetEnv("ADMIN_JWT_SECRET")
	c.SensorsConfigPath = dataDir + "/sensors.yml"

	if c.SensorAPIKey, _ = GetEnv("SENSOR_API_KEY"); c.SensorAPIKey == "" {
		return nil, missingKey("SENSOR_API_KEY")
	}
	return c, nil
}

func missingKey(key string) error {
	return &missingKeyError{key: key}
}

type missingKeyError struct{ key string }

func (e *missingKeyError) Error() string {
	return "required environment variable " + envPrefix + e.key + " (or " + e.key + ") is not set"
}

func envStr(key, def string) string {
	if v, ok := GetEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := GetEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := GetEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func parseIDSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

// IsAdmin reports whether chatID is in the ADMIN_IDS list; admins bypass
// quiet hours and global notification switches (spec §4.4/§6).
func (c *Config) IsAdmin(chatID string) bool {
	_, ok := c.AdminIDs[chatID]
	return ok
}
