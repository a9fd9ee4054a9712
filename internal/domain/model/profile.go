package model

import "time"

// Profile — профиль submitter.
// Хранится в таблице profiles. UUID — непрозрачный routing-токен,
// встраиваемый в персонализированный архив; отличен от федеративного
// identity и не раскрывает его устройству.
type Profile struct {
	// UUID — routing-токен submitter
	UUID string
	// Identity — федеративный identity (sub из JWT)
	Identity string
	// DisplayName — кэшированное отображаемое имя
	DisplayName string
	// ConfigVersion — версия конфигурации, сгенерированной последней
	// персонализацией (пустая строка — конфигурация не генерировалась)
	ConfigVersion string
	// TotalWeightGrams — суммарный вес филамента загруженных заданий
	TotalWeightGrams float64
	// CreatedAt — время создания профиля
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
