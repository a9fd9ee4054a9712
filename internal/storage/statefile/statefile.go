// Пакет statefile — persist-токен consumer-а на диске.
//
// Принтер (consumer) авторизуется на endpoint выдачи G-code по
// статическому routing-токену. Токен генерируется при первом запуске
// и переживает рестарты сервиса.
//
// Формат файла:
//
//	{"token": "a1b2c3d4-...", "created_at": "2026-01-01T00:00:00Z"}
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// tokenFileData — структура данных файла токена.
type tokenFileData struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadOrCreateToken читает consumer-токен из файла или генерирует новый.
// Новый токен записывается атомарно (temp → fsync → rename).
func LoadOrCreateToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var fileData tokenFileData
		if err := json.Unmarshal(data, &fileData); err != nil {
			return "", fmt.Errorf("ошибка десериализации файла токена %s: %w", path, err)
		}
		if _, err := uuid.Parse(fileData.Token); err != nil {
			return "", fmt.Errorf("невалидный токен в файле %s: %w", path, err)
		}
		return fileData.Token, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("ошибка чтения файла токена %s: %w", path, err)
	}

	token := uuid.New().String()
	if err := saveToken(path, token); err != nil {
		return "", err
	}
	return token, nil
}

// saveToken записывает токен в файл (атомарно: temp → fsync → rename).
func saveToken(path string, token string) error {
	jsonData, err := json.MarshalIndent(tokenFileData{
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации файла токена: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("ошибка создания temp файла токена: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи temp файла токена: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync temp файла токена: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия temp файла токена: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка rename файла токена: %w", err)
	}

	return nil
}
