package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config defines the runtime configuration for the vitals server.
type Config struct {
	// Server
	Addr        string
	TmpDir      string
	CORSOrigins []string

	// Upload limits
	MaxUploadSize    int64
	MaxVideoDuration time.Duration

	// Storage layout
	DataDir    string
	VideoDir   string
	ResultsDir string

	// Estimation engine
	EngineBaseURL string
	EngineTimeout time.Duration
	DefaultAPIKey string
	DefaultMethod string

	// Webcam capture
	CameraMaxIndex  int
	CameraFPS       int
	DefaultDuration time.Duration
}

// New builds a Config from environment variables with sensible defaults.
func New() *Config {
	dataDir := getEnv("DATA_DIR", "data")

	port := getEnv("APP_PORT", "8894")

	return &Config{
		Addr:        getEnv("SERVER_ADDRESS", ":"+port),
		TmpDir:      getEnv("TMP_DIR", os.TempDir()),
		CORSOrigins: getEnvAsList("CORS_ALLOW_ORIGINS", defaultCORSOrigins(port)),

		MaxUploadSize:    getEnvAsInt64("MAX_FILE_SIZE_MB", 100) * 1024 * 1024,
		MaxVideoDuration: getEnvAsDuration("MAX_VIDEO_DURATION", 45*time.Second),

		DataDir:    dataDir,
		VideoDir:   filepath.Join(dataDir, "videos"),
		ResultsDir: filepath.Join(dataDir, "results"),

		EngineBaseURL: getEnv("VITALS_ENGINE_URL", "http://localhost:8001"),
		EngineTimeout: getEnvAsDuration("VITALS_ENGINE_TIMEOUT", 2*time.Minute),
		DefaultAPIKey: getEnv("VITALLENS_API_KEY", ""),
		DefaultMethod: getEnv("DEFAULT_METHOD", "POS"),

		CameraMaxIndex:  getEnvAsInt("CAMERA_MAX_INDEX", 5),
		CameraFPS:       getEnvAsInt("CAMERA_FPS", 30),
		DefaultDuration: getEnvAsDuration("DEFAULT_RECORDING_DURATION", 10*time.Second),
	}
}

func defaultCORSOrigins(port string) []string {
	return []string{
		"http://localhost:" + port,
		"https://localhost:" + port,
		"http://127.0.0.1:" + port,
		"https://127.0.0.1:" + port,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
