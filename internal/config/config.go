// Package config loads service settings from the environment, after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Remote store backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the field sync service.
type Config struct {
	Port string

	MongoURI    string
	MongoDB     string
	RemoteStore string
	QueuePath   string

	SheetsBridgeURL    string
	SheetsBridgeToken  string
	SheetsWorkbookPath string
	FuelSheetName      string

	RequestTimeout         time.Duration
	AttemptWarnThreshold   int
	DuplicateWindowMinutes int
	CleanupBatchSize       int
	CleanupLookbackDays    int
	MirrorBatchSize        int64

	DrainSchedule   string
	MirrorSchedule  string
	CleanupSchedule string
	DeviceUserID    string

	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string

	JWTSecret   string
	JWTExpiry   time.Duration
	CORSOrigins []string

	// AdminUsername and AdminPassword seed the first admin account when it is missing.
	AdminUsername string
	AdminPassword string

	LogLevel  string
	LogFormat string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to read .env file")
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		MongoURI:               getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:                getEnv("MONGO_DB", "fleet_fieldsync"),
		RemoteStore:            strings.ToLower(getEnv("REMOTE_STORE", StoreMongo)),
		QueuePath:              getEnv("QUEUE_PATH", "fieldsync-queue.db"),
		SheetsBridgeURL:        os.Getenv("SHEETS_BRIDGE_URL"),
		SheetsBridgeToken:      os.Getenv("SHEETS_BRIDGE_TOKEN"),
		SheetsWorkbookPath:     os.Getenv("SHEETS_WORKBOOK_PATH"),
		FuelSheetName:          getEnv("FUEL_SHEET_NAME", "Abastecimentos"),
		RequestTimeout:         p.duration("REQUEST_TIMEOUT", 15*time.Second),
		AttemptWarnThreshold:   p.integer("ATTEMPT_WARN_THRESHOLD", 10),
		DuplicateWindowMinutes: p.integer("DUPLICATE_WINDOW_MINUTES", 5),
		CleanupBatchSize:       p.integer("CLEANUP_BATCH_SIZE", 50),
		CleanupLookbackDays:    p.integer("CLEANUP_LOOKBACK_DAYS", 7),
		MirrorBatchSize:        int64(p.integer("MIRROR_BATCH_SIZE", 100)),
		DrainSchedule:          getEnv("DRAIN_SCHEDULE", "0 */5 * * * *"),
		MirrorSchedule:         getEnv("MIRROR_SCHEDULE", "0 */15 * * * *"),
		CleanupSchedule:        getEnv("CLEANUP_SCHEDULE", "0 30 2 * * *"),
		DeviceUserID:           os.Getenv("DEVICE_USER_ID"),
		MQTTBroker:             os.Getenv("MQTT_BROKER"),
		MQTTClientID:           getEnv("MQTT_CLIENT_ID", "fleet-fieldsync"),
		MQTTTopic:              getEnv("MQTT_TOPIC", "fleet/fieldsync"),
		JWTSecret:              getEnv("JWT_SECRET", "default-secret-key-change-in-production"),
		JWTExpiry:              p.duration("JWT_EXPIRY", 24*time.Hour),
		CORSOrigins:            splitList(getEnv("CORS_ORIGINS", "*")),
		AdminUsername:          os.Getenv("ADMIN_USERNAME"),
		AdminPassword:          os.Getenv("ADMIN_PASSWORD"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.RemoteStore != StoreMongo && c.RemoteStore != StoreMemory {
		return fmt.Errorf("%w: REMOTE_STORE must be %q or %q, got %q", ErrInvalidConfig, StoreMongo, StoreMemory, c.RemoteStore)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must be positive", ErrInvalidConfig)
	}
	for name, v := range map[string]int{
		"ATTEMPT_WARN_THRESHOLD":   c.AttemptWarnThreshold,
		"DUPLICATE_WINDOW_MINUTES": c.DuplicateWindowMinutes,
		"CLEANUP_BATCH_SIZE":       c.CleanupBatchSize,
		"CLEANUP_LOOKBACK_DAYS":    c.CleanupLookbackDays,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("%w: ADMIN_USERNAME and ADMIN_PASSWORD must be set together", ErrInvalidConfig)
	}
	if c.SheetsBridgeURL != "" && c.SheetsWorkbookPath != "" {
		return fmt.Errorf("%w: set only one of SHEETS_BRIDGE_URL and SHEETS_WORKBOOK_PATH", ErrInvalidConfig)
	}
	return nil
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("log_level", c.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d
}
