package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// TestLoadOrCreateToken_Creates проверяет генерацию токена при первом запуске.
func TestLoadOrCreateToken_Creates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumer-token")

	token, err := LoadOrCreateToken(path)
	if err != nil {
		t.Fatalf("LoadOrCreateToken() ошибка: %v", err)
	}
	if _, err := uuid.Parse(token); err != nil {
		t.Errorf("токен %q не является UUID: %v", token, err)
	}

	// Файл создан с ограниченными правами
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("файл токена не создан: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("права файла токена = %o, хотели 600", perm)
	}
}

// TestLoadOrCreateToken_Stable проверяет стабильность токена между запусками.
func TestLoadOrCreateToken_Stable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumer-token")

	first, err := LoadOrCreateToken(path)
	if err != nil {
		t.Fatalf("первый LoadOrCreateToken() ошибка: %v", err)
	}
	second, err := LoadOrCreateToken(path)
	if err != nil {
		t.Fatalf("второй LoadOrCreateToken() ошибка: %v", err)
	}
	if first != second {
		t.Errorf("токен сменился между запусками: %q -> %q", first, second)
	}
}

// TestLoadOrCreateToken_Corrupt проверяет реакцию на повреждённый файл.
func TestLoadOrCreateToken_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumer-token")

	if err := os.WriteFile(path, []byte("не json"), 0o600); err != nil {
		t.Fatalf("подготовка файла: %v", err)
	}
	if _, err := LoadOrCreateToken(path); err == nil {
		t.Error("ожидали ошибку для повреждённого файла токена")
	}

	if err := os.WriteFile(path, []byte(`{"token":"not-a-uuid"}`), 0o600); err != nil {
		t.Fatalf("подготовка файла: %v", err)
	}
	if _, err := LoadOrCreateToken(path); err == nil {
		t.Error("ожидали ошибку для невалидного токена")
	}
}
