package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	UrlPrefix       string
	StoreType       string
	DbConnectionUrl string
	DbTablePrefix   string

	ExportDir string
	ExportUrl string
	SiteName  string
	HomeUrl   string

	MaxUploadSize     int64
	DocumentCacheSize int

	LogLevel  string
	SentryDsn string

	AuthenticationType string
	AuthServiceUrl     string
	CacheType          string
	RedisUrl           string

	NotifyUrl string

	EnableProfiler          bool
	DisableSafePanicHandler bool

	WorkDir   string
	StartTime int
}

const (
	StoreTypeMemory   = "memory"
	StoreTypePostgres = "pg"
)

//GetConfig reads the .env file of the working directory (if any) and then the environment.
//Environment variables always win over .env values.
func GetConfig() *AppConfig {
	workDir, _ := os.Getwd()
	godotenv.Load(workDir + "/.env")

	appConfig := AppConfig{
		UrlPrefix:         "/kb-migration",
		StoreType:         StoreTypeMemory,
		DbConnectionUrl:   "postgres://localhost:5432/kbmigrate?sslmode=disable",
		DbTablePrefix:     "kb_",
		ExportDir:         "./basepress-exports",
		ExportUrl:         "http://localhost:8000/kb-migration/files",
		SiteName:          "Knowledge Base",
		HomeUrl:           "http://localhost",
		MaxUploadSize:     32 << 20,
		DocumentCacheSize: 4,
		LogLevel:          "info",
		WorkDir:           workDir,
		StartTime:         int(time.Now().Unix()),
	}

	setString(&appConfig.UrlPrefix, "URL_PREFIX")
	setString(&appConfig.StoreType, "STORE_TYPE")
	setString(&appConfig.DbConnectionUrl, "DB_CONNECTION_URL")
	setString(&appConfig.DbTablePrefix, "DB_TABLE_PREFIX")
	setString(&appConfig.ExportDir, "EXPORT_DIR")
	setString(&appConfig.ExportUrl, "EXPORT_URL")
	setString(&appConfig.SiteName, "SITE_NAME")
	setString(&appConfig.HomeUrl, "HOME_URL")
	setString(&appConfig.LogLevel, "LOG_LEVEL")
	setString(&appConfig.SentryDsn, "SENTRY_DSN")
	setString(&appConfig.AuthenticationType, "AUTHENTICATION_TYPE")
	setString(&appConfig.AuthServiceUrl, "AUTH_SERVICE_URL")
	setString(&appConfig.CacheType, "CACHE_TYPE")
	setString(&appConfig.RedisUrl, "REDIS_URL")
	setString(&appConfig.NotifyUrl, "NOTIFY_URL")

	if size, err := strconv.ParseInt(os.Getenv("MAX_UPLOAD_SIZE"), 10, 64); err == nil && size > 0 {
		appConfig.MaxUploadSize = size
	}
	if size, err := strconv.Atoi(os.Getenv("DOCUMENT_CACHE_SIZE")); err == nil && size > 0 {
		appConfig.DocumentCacheSize = size
	}

	appConfig.EnableProfiler = isTrue(os.Getenv("ENABLE_PROFILER"))
	appConfig.DisableSafePanicHandler = isTrue(os.Getenv("DISABLE_SAFE_PANIC_HANDLER"))

	return &appConfig
}

func setString(target *string, name string) {
	if value := os.Getenv(name); len(value) > 0 {
		*target = value
	}
}

func isTrue(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
