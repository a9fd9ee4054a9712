package gcode

import (
	"encoding/base64"
	"strings"
	"testing"
)

// buildThumbnailBlock формирует thumbnail-блок так, как его пишет слайсер:
// base64 полезной нагрузки, порезанный на строки с префиксом "; ".
func buildThumbnailBlock(payload []byte, lineWidth int) string {
	encoded := base64.StdEncoding.EncodeToString(payload)

	var b strings.Builder
	b.WriteString("; THUMBNAIL_BLOCK_START\n")
	b.WriteString("; thumbnail begin 300x300\n")
	for len(encoded) > 0 {
		n := lineWidth
		if n > len(encoded) {
			n = len(encoded)
		}
		b.WriteString("; " + encoded[:n] + "\n")
		encoded = encoded[n:]
	}
	b.WriteString("; thumbnail end\n")
	b.WriteString("; THUMBNAIL_BLOCK_END\n")
	return b.String()
}

// TestExtractThumbnail_RoundTrip: фрагментированный base64 собирается
// обратно в исходные байты.
func TestExtractThumbnail_RoundTrip(t *testing.T) {
	payload := []byte("\x89PNG\r\n\x1a\n тестовое содержимое превью модели")
	content := "; generated by slicer\n" +
		buildThumbnailBlock(payload, 40) +
		"G28\nG1 X10 Y10 E5\n"

	encoded, ok := ExtractThumbnail(strings.NewReader(content))
	if !ok {
		t.Fatal("ExtractThumbnail() не нашёл блок")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("результат не декодируется из base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("декодировано %q, хотели %q", decoded, payload)
	}
}

// TestExtractThumbnail_None: файл без блока или с пустым блоком.
func TestExtractThumbnail_None(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"без блока", "G28\nG1 X10\n"},
		{"пустой файл", ""},
		{"пустой блок", "; THUMBNAIL_BLOCK_START\n; THUMBNAIL_BLOCK_END\n"},
		{"только служебные строки", "; THUMBNAIL_BLOCK_START\n; thumbnail begin\n; thumbnail end\n; THUMBNAIL_BLOCK_END\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := ExtractThumbnail(strings.NewReader(tt.content)); ok {
				t.Errorf("ExtractThumbnail() = %q, ожидали отсутствие", got)
			}
		})
	}
}

// TestExtractThumbnail_LastCompleteBlockWins: при нескольких блоках
// побеждает последний завершённый.
func TestExtractThumbnail_LastCompleteBlockWins(t *testing.T) {
	content := buildThumbnailBlock([]byte("первый"), 40) +
		"G28\n" +
		buildThumbnailBlock([]byte("второй"), 40)

	encoded, ok := ExtractThumbnail(strings.NewReader(content))
	if !ok {
		t.Fatal("ExtractThumbnail() не нашёл блок")
	}
	decoded, _ := base64.StdEncoding.DecodeString(encoded)
	if string(decoded) != "второй" {
		t.Errorf("декодировано %q, хотели %q", decoded, "второй")
	}
}

// TestExtractThumbnail_TruncatedBlockDiscarded: блок без закрывающего
// sentinel-а отбрасывается, предыдущий завершённый сохраняется.
func TestExtractThumbnail_TruncatedBlockDiscarded(t *testing.T) {
	complete := buildThumbnailBlock([]byte("целый"), 40)
	truncated := "; THUMBNAIL_BLOCK_START\n; b6LRgNGD0YHQvtGH0L7Qug==\n" // нет END

	encoded, ok := ExtractThumbnail(strings.NewReader(complete + truncated))
	if !ok {
		t.Fatal("ExtractThumbnail() не нашёл завершённый блок")
	}
	decoded, _ := base64.StdEncoding.DecodeString(encoded)
	if string(decoded) != "целый" {
		t.Errorf("декодировано %q, хотели %q", decoded, "целый")
	}

	// Только усечённый блок — отсутствие результата
	if got, ok := ExtractThumbnail(strings.NewReader(truncated)); ok {
		t.Errorf("усечённый блок вернул %q, ожидали отсутствие", got)
	}
}

// TestExtractFilamentWeight проверяет разбор sentinel-строки веса.
func TestExtractFilamentWeight(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
		ok      bool
	}{
		{"целое с дробью", "G28\n; total filament weight [g] : 12.5\nG1\n", 12.5, true},
		{"целое", "; total filament weight [g] : 7\n", 7, true},
		{"без пробела", "; total filament weight [g] :3.25\n", 3.25, true},
		{"отсутствует", "G28\nG1 X10\n", 0, false},
		{"не число", "; total filament weight [g] : n/a\n", 0, false},
		{"пустое значение", "; total filament weight [g] : \n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFilamentWeight(strings.NewReader(tt.content))
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractFilamentWeight() = (%v, %v), хотели (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// TestExtractFilamentWeight_NoNaN: отсутствие веса не должно порождать
// значение, портящее накопительный счётчик.
func TestExtractFilamentWeight_NoNaN(t *testing.T) {
	got, ok := ExtractFilamentWeight(strings.NewReader("G28\n"))
	if ok {
		t.Fatal("ожидали отсутствие веса")
	}
	total := 100.0
	total += got // got обязан быть нулём при ok == false
	if total != 100.0 {
		t.Errorf("счётчик повреждён: %v", total)
	}
}

// TestExtractConfigVersion проверяет ограниченный префиксный скан.
func TestExtractConfigVersion(t *testing.T) {
	content := "; generated\n; VERSION: 1.0.0\nG28\n"

	version, ok := ExtractConfigVersion(strings.NewReader(content), 600)
	if !ok || version != "1.0.0" {
		t.Errorf("ExtractConfigVersion() = (%q, %v), хотели (%q, true)", version, ok, "1.0.0")
	}
}

// TestExtractConfigVersion_BeyondLimit: маркер за пределами первых
// maxLines строк не учитывается.
func TestExtractConfigVersion_BeyondLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 600; i++ {
		b.WriteString("G1 X1\n")
	}
	b.WriteString("; VERSION: 1.0.0\n")

	if version, ok := ExtractConfigVersion(strings.NewReader(b.String()), 600); ok {
		t.Errorf("маркер за пределом учтён: %q", version)
	}

	// В пределах лимита — находится
	if _, ok := ExtractConfigVersion(strings.NewReader(b.String()), 601); !ok {
		t.Error("маркер в пределах лимита не найден")
	}
}

// TestExtractConfigVersion_Missing: пустое или отсутствующее значение.
func TestExtractConfigVersion_Missing(t *testing.T) {
	if _, ok := ExtractConfigVersion(strings.NewReader("G28\n"), 600); ok {
		t.Error("версия найдена в файле без маркера")
	}
	if _, ok := ExtractConfigVersion(strings.NewReader("; VERSION: \n"), 600); ok {
		t.Error("пустое значение версии принято")
	}
}
