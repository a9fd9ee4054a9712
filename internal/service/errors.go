// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — операция запрещена для данного пользователя.
	ErrForbidden = errors.New("операция запрещена")
	// ErrQueueEmpty — очередь печати пуста.
	ErrQueueEmpty = errors.New("очередь печати пуста")
	// ErrFileMissing — файл задания отсутствует на диске при живой записи.
	// Внешний сбой: запись сохраняется, требуется вмешательство оператора.
	ErrFileMissing = errors.New("файл задания отсутствует на диске")
	// ErrStaleConfig — версия конфигурации в файле не совпадает с ожидаемой.
	ErrStaleConfig = errors.New("устаревшая версия конфигурации — перегенерируйте профиль принтера")
	// ErrBadExtension — недопустимое расширение файла задания.
	ErrBadExtension = errors.New("недопустимое расширение файла")
	// ErrFileTooLarge — размер файла превышает допустимый максимум.
	ErrFileTooLarge = errors.New("размер файла превышает максимум")
	// ErrTemplateMissing — отсутствует мастер-шаблон .orca_printer.
	// Конфигурационная ошибка: исправляется оператором, не пользователем.
	ErrTemplateMissing = errors.New("мастер-шаблон конфигурации не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNoThumbnail — в файле задания нет встроенного превью.
	ErrNoThumbnail = errors.New("превью не найдено в файле задания")
)
