package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	OngoingDir   = "downloads/ongoing"
	CompletedDir = "downloads/completed"
)

// Config is the typed configuration for the whole service, populated once at
// startup and validated at load time.
type Config struct {
	ListenAddr  string
	DatabaseURL string
	YtdlpPath   string
	ExecDir     string

	AbsOngoingDir   string
	AbsCompletedDir string

	AllowedDomains []string
	MaxFileSize    string

	RateLimit  int
	RateWindow time.Duration

	StartupTimeout time.Duration
	JobTimeout     time.Duration

	ArtifactRetention time.Duration
	RateWindowIdleTTL time.Duration
}

// Load reads .env plus the environment and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	execDir := getExecutableDir()
	absOngoingDir := filepath.Join(execDir, OngoingDir)
	absCompletedDir := filepath.Join(execDir, CompletedDir)

	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", "0.0.0.0:8080"),
		DatabaseURL:     databaseURL,
		YtdlpPath:       envOr("YTDLP_PATH", "yt-dlp"),
		ExecDir:         execDir,
		AbsOngoingDir:   absOngoingDir,
		AbsCompletedDir: absCompletedDir,
		MaxFileSize:     envOr("MAX_FILE_SIZE", "2G"),
	}

	cfg.AllowedDomains = splitList(envOr("ALLOWED_DOMAINS", "youtube.com,youtu.be,www.youtube.com,m.youtube.com"))
	if len(cfg.AllowedDomains) == 0 {
		return nil, fmt.Errorf("ALLOWED_DOMAINS must list at least one domain")
	}

	var err error
	if cfg.RateLimit, err = envInt("RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimit < 1 {
		return nil, fmt.Errorf("RATE_LIMIT must be at least 1")
	}
	if cfg.RateWindow, err = envSeconds("RATE_WINDOW_SECONDS", 1800*time.Second); err != nil {
		return nil, err
	}
	if cfg.StartupTimeout, err = envSeconds("STARTUP_TIMEOUT_SECONDS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = envSeconds("JOB_TIMEOUT_SECONDS", 30*time.Minute); err != nil {
		return nil, err
	}

	retentionDays, err := envInt("CLEANUP_AFTER_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cfg.ArtifactRetention = time.Duration(retentionDays) * 24 * time.Hour
	cfg.RateWindowIdleTTL = 24 * time.Hour

	// Create directories
	if err := os.MkdirAll(absOngoingDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absCompletedDir, 0755); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getExecutableDir() string {
	if dir := os.Getenv("EXEC_DIR"); dir != "" {
		return dir
	}
	return "."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %v", key, err)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
