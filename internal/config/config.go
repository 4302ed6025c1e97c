package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from the environment.
type Config struct {
	AppEnv   string
	Debug    bool
	Version  string
	LogLevel string

	BotToken         string
	AdminIDs         []int64
	SourceChannelIDs []int64

	VKGroupID          int64
	VKAccessToken      string
	VKUserAccessToken  string
	VKUserRefreshToken string
	VKUserClientID     string
	VKUserDeviceID     string
	VKUserState        string
	VKAPIVersion       string
	VKOAuthURL         string

	Mode                string
	LimitStrategy       string
	AlbumFinalizeDelay  time.Duration
	MaxFileSizeBytes    int64
	AutopostingEnabled  bool
	DefaultLanguageCode string

	MongoDBURI      string
	MongoDBDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SentryDSN string
	TempDir   string
	Workers   int
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present but prioritizes
// actual environment variables set in the system (e.g., by Docker).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	debug, _ := strconv.ParseBool(getEnv("DEBUG", "false"))

	vkGroupID, err := getInt64Env("VK_GROUP_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid VK_GROUP_ID: %w", err)
	}

	delaySec, err := getIntEnv("ALBUM_FINALIZE_DELAY_SEC", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid ALBUM_FINALIZE_DELAY_SEC: %w", err)
	}

	maxSizeMB, err := getIntEnv("MAX_FILE_SIZE_MB", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE_MB: %w", err)
	}

	workers, err := getIntEnv("WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKERS: %w", err)
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	adminIDs, err := ParseInt64List(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	sourceIDs, err := ParseInt64List(os.Getenv("SOURCE_CHANNEL_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SOURCE_CHANNEL_IDS: %w", err)
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		Debug:    debug,
		Version:  getEnv("VERSION", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BotToken:         getEnv("TG_BOT_TOKEN", ""),
		AdminIDs:         adminIDs,
		SourceChannelIDs: sourceIDs,

		VKGroupID:          vkGroupID,
		VKAccessToken:      getEnv("VK_ACCESS_TOKEN", ""),
		VKUserAccessToken:  getEnv("VK_USER_ACCESS_TOKEN", ""),
		VKUserRefreshToken: getEnv("VK_USER_REFRESH_TOKEN", ""),
		VKUserClientID:     getEnv("VK_USER_CLIENT_ID", ""),
		VKUserDeviceID:     getEnv("VK_USER_DEVICE_ID", ""),
		VKUserState:        getEnv("VK_USER_STATE", ""),
		VKAPIVersion:       getEnv("VK_API_VERSION", "5.199"),
		VKOAuthURL:         getEnv("VK_ID_OAUTH_URL", "https://id.vk.com/oauth2/auth"),

		Mode:                getEnv("MODE", "auto"),
		LimitStrategy:       getEnv("LIMIT_STRATEGY", "truncate"),
		AlbumFinalizeDelay:  time.Duration(delaySec) * time.Second,
		MaxFileSizeBytes:    int64(maxSizeMB) * 1024 * 1024,
		AutopostingEnabled:  true,
		DefaultLanguageCode: getEnv("DEFAULT_LANGUAGE", "en"),

		MongoDBURI:      getEnv("MONGODB_URI", ""),
		MongoDBDatabase: getEnv("MONGODB_DATABASE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		SentryDSN: getEnv("SENTRY_DSN", ""),
		TempDir:   getEnv("TEMP_DIR", os.TempDir()),
		Workers:   workers,
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TG_BOT_TOKEN is required")
	}
	if cfg.VKAccessToken == "" {
		return nil, fmt.Errorf("VK_ACCESS_TOKEN is required")
	}
	if cfg.VKGroupID == 0 {
		return nil, fmt.Errorf("VK_GROUP_ID is required")
	}
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.MongoDBDatabase == "" {
		return nil, fmt.Errorf("MONGODB_DATABASE is required")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func getInt64Env(key string, defaultValue int64) (int64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	return strconv.ParseInt(value, 10, 64)
}

// ParseInt64List parses a comma-separated list of integers, skipping blanks.
func ParseInt64List(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	var items []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, nil
}
