package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr                string
	CORSAllowedOrigins        []string
	RateLimitRequestsPerSec   float64
	RateLimitBurst            int
	ReportRateLimitPerMinute  float64
	ReportRateLimitBurst      int
	RedisAddr                 string
	SessionTTLHours           int
	DatabaseURL               string
	S3Region                  string
	S3Endpoint                string
	S3AccessKey               string
	S3SecretKey               string
	S3Bucket                  string
	SiteCatalogURL            string
	CommentsURL               string
	AlarmCategoryPath         string
	AlarmRenamePath           string
	HardwareRenamePath        string
	ReferenceTTLMinutes       int
	UploadDir                 string
	ReportDir                 string
	ReportFileName            string
	RecencyWindowDays         int
	ProcessTimeoutSeconds     int
	MaxUploadMB               int
	Timezone                  string
	TechSheets                []TechSheet
	EnvironmentalSheet        string
	CriticalWebhookURL        string
	CriticalWebhookAuthHeader string
	CriticalCooldownMinutes   int
	ReportTokenSecret         string
	ReportTokenTTLSeconds     int
	ReportRetentionDays       int
	CleanupIntervalMinutes    int
	LogLevel                  string
	LogFormat                 string
}

// TechSheet maps a workbook sheet name to the technology label it carries.
type TechSheet struct {
	Sheet string
	Tech  string
}

const defaultTechSheets = "2G_Down:2G,3G_Down:3G,4G_Down:4G,5G_Down:5G"

// Load reads a .env file when one is present and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	port := envOrDefault("SUMMARIZER_PORT", "8080")
	uploadDir := envOrDefault("UPLOAD_DIR", "uploads")

	return Config{
		ListenAddr:                ":" + port,
		CORSAllowedOrigins:        parseCSV(envOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRequestsPerSec:   envOrDefaultFloat("RATE_LIMIT_REQUESTS_PER_SEC", 10),
		RateLimitBurst:            envOrDefaultInt("RATE_LIMIT_BURST", 20),
		ReportRateLimitPerMinute:  envOrDefaultFloat("REPORT_RATE_LIMIT_PER_MINUTE", 6),
		ReportRateLimitBurst:      envOrDefaultInt("REPORT_RATE_LIMIT_BURST", 3),
		RedisAddr:                 redisAddr(),
		SessionTTLHours:           envOrDefaultInt("SESSION_TTL_HOURS", 24),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		S3Region:                  envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:                os.Getenv("S3_ENDPOINT"),
		S3AccessKey:               os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:               os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                  os.Getenv("S3_BUCKET"),
		SiteCatalogURL:            strings.TrimSpace(os.Getenv("SITE_CATALOG_URL")),
		CommentsURL:               strings.TrimSpace(os.Getenv("COMMENTS_URL")),
		AlarmCategoryPath:         envOrDefault("ALARM_CATEGORY_PATH", "alarm_config.xlsx"),
		AlarmRenamePath:           envOrDefault("ALARM_RENAME_PATH", "alarm_rename.xlsx"),
		HardwareRenamePath:        envOrDefault("HW_RENAME_PATH", "HW-Rename.xlsx"),
		ReferenceTTLMinutes:       envOrDefaultInt("REFERENCE_TTL_MINUTES", 10),
		UploadDir:                 uploadDir,
		ReportDir:                 envOrDefault("REPORT_DIR", uploadDir),
		ReportFileName:            envOrDefault("REPORT_FILE_NAME", "Summary.xlsx"),
		RecencyWindowDays:         envOrDefaultInt("RECENCY_WINDOW_DAYS", 40),
		ProcessTimeoutSeconds:     envOrDefaultInt("PROCESS_TIMEOUT_SECONDS", 120),
		MaxUploadMB:               envOrDefaultInt("MAX_UPLOAD_MB", 64),
		Timezone:                  envOrDefault("TIMEZONE", "Local"),
		TechSheets:                ParseTechSheets(envOrDefault("TECH_SHEETS", defaultTechSheets)),
		EnvironmentalSheet:        envOrDefault("ENV_SHEET", "Environmental"),
		CriticalWebhookURL:        strings.TrimSpace(os.Getenv("CRITICAL_WEBHOOK_URL")),
		CriticalWebhookAuthHeader: strings.TrimSpace(os.Getenv("CRITICAL_WEBHOOK_AUTH_HEADER")),
		CriticalCooldownMinutes:   envOrDefaultInt("CRITICAL_WEBHOOK_COOLDOWN_MINUTES", 30),
		ReportTokenSecret:         strings.TrimSpace(os.Getenv("REPORT_TOKEN_SECRET")),
		ReportTokenTTLSeconds:     envOrDefaultInt("REPORT_TOKEN_TTL_SECONDS", 900),
		ReportRetentionDays:       envOrDefaultInt("REPORT_RETENTION_DAYS", 7),
		CleanupIntervalMinutes:    envOrDefaultInt("CLEANUP_INTERVAL_MINUTES", 0),
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("LOG_FORMAT", "json"),
	}
}

func (c Config) ReferenceTTL() time.Duration {
	return time.Duration(c.ReferenceTTLMinutes) * time.Minute
}

func (c Config) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// Location resolves Timezone, falling back to the local zone on unknown names.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseTechSheets reads "sheet:tech" pairs separated by commas. Malformed pairs are skipped
// and an empty result falls back to the default 2G..5G mapping.
func ParseTechSheets(value string) []TechSheet {
	sheets := make([]TechSheet, 0, 4)
	for _, item := range parseCSV(value) {
		sheet, tech, ok := strings.Cut(item, ":")
		sheet = strings.TrimSpace(sheet)
		tech = strings.TrimSpace(tech)
		if !ok || sheet == "" || tech == "" || item == "*" {
			continue
		}
		sheets = append(sheets, TechSheet{Sheet: sheet, Tech: tech})
	}

	if len(sheets) == 0 && value != defaultTechSheets {
		return ParseTechSheets(defaultTechSheets)
	}
	return sheets
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func redisAddr() string {
	if value := strings.TrimSpace(os.Getenv("REDIS_ADDR")); value != "" {
		return value
	}
	host := envOrDefault("REDIS_HOST", "localhost")
	port := envOrDefault("REDIS_PORT", "6379")
	return fmt.Sprintf("%s:%s", host, port)
}

func parseCSV(value string) []string {
	values := strings.Split(value, ",")
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}

	if len(result) == 0 {
		return []string{"*"}
	}
	return result
}

func envOrDefaultInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed float64
	if _, err := fmt.Sscanf(value, "%f", &parsed); err != nil {
		return fallback
	}
	return parsed
}
