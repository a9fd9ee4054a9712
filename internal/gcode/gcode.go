// Пакет gcode — извлечение метаданных из G-code файлов заданий.
//
// Слайсер встраивает метаданные в комментарии файла:
//   - превью модели — base64 между sentinel-строками THUMBNAIL_BLOCK_START/END;
//   - расход филамента — строка "; total filament weight [g] : <число>";
//   - версия конфигурации — строка "; VERSION: <версия>" в начале файла.
//
// Все функции — чистые сканеры поверх io.Reader, без состояния.
package gcode

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Sentinel-строки, записываемые слайсером.
const (
	thumbnailStart  = "; THUMBNAIL_BLOCK_START"
	thumbnailEnd    = "; THUMBNAIL_BLOCK_END"
	weightSentinel  = "; total filament weight [g] :"
	versionSentinel = "; VERSION:"

	// commentPrefixLen — ширина префикса "; " строк внутри thumbnail-блока.
	commentPrefixLen = 2

	// maxLineSize — верхняя граница длины строки G-code.
	// Строки base64-превью длинные, но ограниченные.
	maxLineSize = 1024 * 1024
)

// newScanner создаёт line-сканер с увеличенным буфером.
func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}

// ExtractThumbnail извлекает base64-превью модели.
//
// Автомат с двумя состояниями (seeking / inBlock): вход по THUMBNAIL_BLOCK_START,
// выход по THUMBNAIL_BLOCK_END. Внутри блока строки, не являющиеся
// sentinel-ами, очищаются от префикса "; " и конкатенируются.
// При нескольких блоках побеждает последний завершённый;
// блок без закрывающего sentinel-а отбрасывается.
//
// Возвращает ("", false), если завершённого непустого блока нет
// или чтение не удалось: отсутствие превью — не ошибка.
func ExtractThumbnail(r io.Reader) (string, bool) {
	var (
		complete string
		current  strings.Builder
		inBlock  bool
	)

	scanner := newScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, thumbnailStart):
			inBlock = true
			current.Reset()
		case strings.Contains(line, thumbnailEnd):
			if inBlock && current.Len() > 0 {
				complete = current.String()
			}
			inBlock = false
		case inBlock && !strings.HasPrefix(line, "; thumbnail"):
			trimmed := strings.TrimSpace(line)
			if len(trimmed) > commentPrefixLen {
				current.WriteString(trimmed[commentPrefixLen:])
			}
		}
	}
	if scanner.Err() != nil || complete == "" {
		return "", false
	}
	return complete, true
}

// ExtractFilamentWeight извлекает расход филамента в граммах.
// Возвращает (0, false), если sentinel отсутствует или число не парсится:
// вызывающий код не должен прибавлять невалидное значение к счётчику.
func ExtractFilamentWeight(r io.Reader) (float64, bool) {
	scanner := newScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, weightSentinel) {
			continue
		}
		value := strings.TrimSpace(line[len(weightSentinel):])
		weight, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return weight, true
	}
	return 0, false
}

// ExtractConfigVersion извлекает версию конфигурации из первых maxLines
// строк файла. Ограниченный префикс: маркер пишется слайсером в начало
// файла, сканировать весь G-code незачем.
func ExtractConfigVersion(r io.Reader, maxLines int) (string, bool) {
	scanner := newScanner(r)
	for i := 0; i < maxLines && scanner.Scan(); i++ {
		line := scanner.Text()
		if !strings.HasPrefix(line, versionSentinel) {
			continue
		}
		version := strings.TrimSpace(line[len(versionSentinel):])
		if version == "" {
			return "", false
		}
		return version, true
	}
	return "", false
}
