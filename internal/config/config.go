// Пакет config — загрузка и валидация конфигурации Print Queue
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Print Queue.
type Config struct {
	// Порт HTTP-сервера
	Port int

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь БД
	DBUser string
	// Пароль БД
	DBPassword string
	// Режим SSL (disable, require, verify-full)
	DBSSLMode string

	// --- Файлы и архивы ---

	// Директория хранения backing-файлов заданий
	DataDir string
	// Путь к эталонному архиву конфигурации (.orca_printer)
	TemplatePath string
	// Scratch-директория персонализации (по uuid)
	WorkDir string
	// Директория готовых персонализированных архивов
	OutputDir string
	// Путь к файлу с токеном consumer (по умолчанию DataDir/consumer-token)
	ConsumerTokenFile string

	// --- Домен ---

	// Имя принтера (имя профиля устройства в архиве)
	MachineName string
	// Внешний базовый URL сервиса (встраивается в print_host)
	PublicURL string
	// Профиль филамента по умолчанию
	DefaultFilamentProfile string
	// Профиль процесса печати по умолчанию
	DefaultProcessProfile string
	// Текущая ожидаемая версия конфигурации (version gate)
	ConfigVersion string
	// Сколько первых строк файла сканировать в поиске маркера версии
	VersionScanLines int
	// Допустимые расширения файлов заданий
	AllowedExtensions []string
	// Максимальный размер файла задания в байтах
	MaxFileSize int64

	// --- Аутентификация ---

	// URL JWKS endpoint Identity Provider
	JWKSUrl string
	// Ожидаемый issuer JWT (опционально)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Группы IdP, дающие роль admin
	AdminGroups []string

	// --- Логирование ---

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Фоновые задачи ---

	// Интервал sweep осиротевших backing-файлов
	SweepInterval time.Duration
	// Минимальный возраст файла для удаления sweep
	// (защита от гонки с незавершённым enqueue)
	SweepMinAge time.Duration

	// --- Кэш thumbnail ---

	// Максимальное количество записей LRU-кэша thumbnail
	ThumbCacheSize int
	// TTL записи кэша thumbnail
	ThumbCacheTTL time.Duration

	// --- Прочее ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:cyclop,funlen // последовательная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// PQ_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("PQ_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PQ_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PQ_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("PQ_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PQ_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PQ_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("PQ_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("PQ_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("PQ_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PQ_DB_SSL_MODE", "disable")

	// --- Файлы и архивы ---

	cfg.DataDir, err = getEnvRequired("PQ_DATA_DIR")
	if err != nil {
		return nil, err
	}
	cfg.TemplatePath, err = getEnvRequired("PQ_TEMPLATE_PATH")
	if err != nil {
		return nil, err
	}
	cfg.WorkDir, err = getEnvRequired("PQ_WORK_DIR")
	if err != nil {
		return nil, err
	}
	cfg.OutputDir, err = getEnvRequired("PQ_OUTPUT_DIR")
	if err != nil {
		return nil, err
	}
	cfg.ConsumerTokenFile = getEnvDefault("PQ_CONSUMER_TOKEN_FILE",
		filepath.Join(cfg.DataDir, "consumer-token"))

	// --- Домен ---

	cfg.MachineName = getEnvDefault("PQ_MACHINE_NAME", "CRO Voron 2.4")
	cfg.PublicURL, err = getEnvRequired("PQ_PUBLIC_URL")
	if err != nil {
		return nil, err
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	cfg.DefaultFilamentProfile = getEnvDefault("PQ_DEFAULT_FILAMENT_PROFILE",
		"Generic PLA template @Voron v2 300mm3 0.4 nozzle")
	cfg.DefaultProcessProfile = getEnvDefault("PQ_DEFAULT_PROCESS_PROFILE", "0.20 Standard")
	cfg.ConfigVersion = getEnvDefault("PQ_CONFIG_VERSION", "1.0.0")

	cfg.VersionScanLines, err = getEnvInt("PQ_VERSION_SCAN_LINES", 600)
	if err != nil {
		return nil, fmt.Errorf("PQ_VERSION_SCAN_LINES: %w", err)
	}
	if cfg.VersionScanLines <= 0 {
		return nil, fmt.Errorf("PQ_VERSION_SCAN_LINES: значение должно быть положительным")
	}

	cfg.AllowedExtensions = parseList(getEnvDefault("PQ_ALLOWED_EXTENSIONS", ".gcode"))
	for i, ext := range cfg.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			cfg.AllowedExtensions[i] = "." + ext
		}
	}

	// PQ_MAX_FILE_SIZE — максимальный размер файла задания (по умолчанию 256 MB)
	cfg.MaxFileSize, err = getEnvInt64("PQ_MAX_FILE_SIZE", 268435456)
	if err != nil {
		return nil, fmt.Errorf("PQ_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("PQ_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// --- Аутентификация ---

	cfg.JWKSUrl, err = getEnvRequired("PQ_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("PQ_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("PQ_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PQ_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("PQ_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PQ_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("PQ_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PQ_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSCACert = getEnvDefault("PQ_JWKS_CA_CERT", "")
	cfg.AdminGroups = parseList(getEnvDefault("PQ_ADMIN_GROUPS", "/print-admins"))

	// --- Логирование ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PQ_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PQ_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("PQ_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PQ_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Фоновые задачи ---

	cfg.SweepInterval, err = getEnvDuration("PQ_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PQ_SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepMinAge, err = getEnvDuration("PQ_SWEEP_MIN_AGE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PQ_SWEEP_MIN_AGE: %w", err)
	}

	// --- Кэш thumbnail ---

	cfg.ThumbCacheSize, err = getEnvInt("PQ_THUMB_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("PQ_THUMB_CACHE_SIZE: %w", err)
	}
	if cfg.ThumbCacheSize <= 0 {
		return nil, fmt.Errorf("PQ_THUMB_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.ThumbCacheTTL, err = getEnvDuration("PQ_THUMB_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PQ_THUMB_CACHE_TTL: %w", err)
	}

	// --- Прочее ---

	cfg.ShutdownTimeout, err = getEnvDuration("PQ_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PQ_SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.DephealthCheckInterval, err = getEnvDuration("PQ_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PQ_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("PQ_DEPHEALTH_GROUP", "print-queue")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения pgx к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// DatabaseURL возвращает URL PostgreSQL для метрик topologymetrics
// (используется только для лейблов, не для подключения).
func (c *Config) DatabaseURL() string {
	return c.DatabaseDSN()
}

// ExtensionAllowed проверяет, допустимо ли расширение файла задания.
// Сравнение регистронезависимое.
func (c *Config) ExtensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range c.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
	}
	return d, nil
}

// parseList разбирает список значений через запятую, отбрасывая пустые элементы.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
