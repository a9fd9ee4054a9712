package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// requiredVars — минимальный набор обязательных переменных для Load().
var requiredVars = map[string]string{
	"PQ_DB_HOST":       "localhost",
	"PQ_DB_NAME":       "printqueue",
	"PQ_DB_USER":       "pq",
	"PQ_DB_PASSWORD":   "secret",
	"PQ_DATA_DIR":      "/var/lib/pq/uploads",
	"PQ_TEMPLATE_PATH": "/var/lib/pq/template.orca_printer",
	"PQ_WORK_DIR":      "/var/lib/pq/work",
	"PQ_OUTPUT_DIR":    "/var/lib/pq/outputs",
	"PQ_PUBLIC_URL":    "https://print.example.com",
	"PQ_JWKS_URL":      "https://idp.example.com/jwks",
}

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// TestLoad_Defaults проверяет значения по умолчанию при минимальной конфигурации.
func TestLoad_Defaults(t *testing.T) {
	cleanup := setEnvVars(t, requiredVars)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, хотели 8080", cfg.Port)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, хотели 5432", cfg.DBPort)
	}
	if cfg.ConfigVersion != "1.0.0" {
		t.Errorf("ConfigVersion = %q, хотели %q", cfg.ConfigVersion, "1.0.0")
	}
	if cfg.VersionScanLines != 600 {
		t.Errorf("VersionScanLines = %d, хотели 600", cfg.VersionScanLines)
	}
	if len(cfg.AllowedExtensions) != 1 || cfg.AllowedExtensions[0] != ".gcode" {
		t.Errorf("AllowedExtensions = %v, хотели [.gcode]", cfg.AllowedExtensions)
	}
	if cfg.MachineName != "CRO Voron 2.4" {
		t.Errorf("MachineName = %q", cfg.MachineName)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, хотели info", cfg.LogLevel)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, хотели 1h", cfg.SweepInterval)
	}
	if cfg.ConsumerTokenFile != "/var/lib/pq/uploads/consumer-token" {
		t.Errorf("ConsumerTokenFile = %q", cfg.ConsumerTokenFile)
	}
}

// TestLoad_MissingRequired проверяет ошибку при отсутствии обязательной переменной.
func TestLoad_MissingRequired(t *testing.T) {
	vars := make(map[string]string, len(requiredVars))
	for k, v := range requiredVars {
		vars[k] = v
	}
	delete(vars, "PQ_PUBLIC_URL")

	cleanup := setEnvVars(t, vars)
	defer cleanup()
	os.Unsetenv("PQ_PUBLIC_URL")

	if _, err := Load(); err == nil {
		t.Fatal("Load() должен вернуть ошибку без PQ_PUBLIC_URL")
	}
}

// TestLoad_PublicURLTrimmed проверяет удаление завершающего слэша.
func TestLoad_PublicURLTrimmed(t *testing.T) {
	vars := make(map[string]string, len(requiredVars))
	for k, v := range requiredVars {
		vars[k] = v
	}
	vars["PQ_PUBLIC_URL"] = "https://print.example.com/"

	cleanup := setEnvVars(t, vars)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.PublicURL != "https://print.example.com" {
		t.Errorf("PublicURL = %q, слэш не удалён", cfg.PublicURL)
	}
}

// TestLoad_ExtensionsNormalized проверяет нормализацию расширений без точки.
func TestLoad_ExtensionsNormalized(t *testing.T) {
	vars := make(map[string]string, len(requiredVars))
	for k, v := range requiredVars {
		vars[k] = v
	}
	vars["PQ_ALLOWED_EXTENSIONS"] = "gcode, .GCO"

	cleanup := setEnvVars(t, vars)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if len(cfg.AllowedExtensions) != 2 {
		t.Fatalf("AllowedExtensions = %v, хотели 2 элемента", cfg.AllowedExtensions)
	}
	if cfg.AllowedExtensions[0] != ".gcode" {
		t.Errorf("AllowedExtensions[0] = %q, хотели .gcode", cfg.AllowedExtensions[0])
	}

	if !cfg.ExtensionAllowed("part.gcode") {
		t.Error("ExtensionAllowed(part.gcode) = false")
	}
	if !cfg.ExtensionAllowed("part.gco") {
		t.Error("ExtensionAllowed(part.gco) = false, сравнение должно быть регистронезависимым")
	}
	if cfg.ExtensionAllowed("part.stl") {
		t.Error("ExtensionAllowed(part.stl) = true")
	}
}

// TestLoad_InvalidLogLevel проверяет ошибку при недопустимом уровне логирования.
func TestLoad_InvalidLogLevel(t *testing.T) {
	vars := make(map[string]string, len(requiredVars))
	for k, v := range requiredVars {
		vars[k] = v
	}
	vars["PQ_LOG_LEVEL"] = "verbose"

	cleanup := setEnvVars(t, vars)
	defer cleanup()

	if _, err := Load(); err == nil {
		t.Fatal("Load() должен вернуть ошибку при PQ_LOG_LEVEL=verbose")
	}
}
