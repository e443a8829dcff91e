// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Application
	ProjectName string
	APIPrefix   string

	// Database
	DatabaseURL      string
	AutoCreateTables bool

	// Token
	SecretKey          string
	Algorithm          string
	AccessTokenExpires time.Duration

	// Zepp
	ZeppPhone    string
	ZeppPassword string
	ZeppTimeout  time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string
}

// ZeppConfigured はZeppの認証情報が両方設定されているかを返す。
func (c *Config) ZeppConfigured() bool {
	return c.ZeppPhone != "" && c.ZeppPassword != ""
}

// LoadDotEnv は指定パスの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ProjectName = getEnvString("PROJECT_NAME", "Health Tracker")
	cfg.APIPrefix = getEnvString("API_V1_STR", "/api/v1")
	cfg.AutoCreateTables = getEnvBool("AUTO_CREATE_TABLES", true)
	cfg.Algorithm = getEnvString("ALGORITHM", "HS256")
	cfg.AccessTokenExpires = time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60)) * time.Minute
	cfg.ZeppPhone = strings.TrimSpace(os.Getenv("ZEPP_PHONE"))
	cfg.ZeppPassword = os.Getenv("ZEPP_PASSWORD")
	cfg.ZeppTimeout = getEnvDuration("ZEPP_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 6)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigins = getEnvList("BACKEND_CORS_ORIGINS",
		[]string{"http://localhost:3000", "http://127.0.0.1:3000"})

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は読み込んだ値の整合性を検証する。
func (c *Config) validate() error {
	var problems []string

	if !strings.HasPrefix(c.APIPrefix, "/") || c.APIPrefix == "/" {
		problems = append(problems, "API_V1_STR must start with '/' and not be the root")
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		problems = append(problems, fmt.Sprintf("ALGORITHM %q is not supported", c.Algorithm))
	}
	if c.AccessTokenExpires <= 0 {
		problems = append(problems, "ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.ZeppTimeout <= 0 {
		problems = append(problems, "ZEPP_TIMEOUT must be positive")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitSync <= 0 {
		problems = append(problems, "RATE_LIMIT_GENERAL and RATE_LIMIT_SYNC must be positive")
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			problems = append(problems, "BACKEND_CORS_ORIGINS must not contain '*'")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いて分割する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
