// Пакет model — доменные модели Print Queue.
package model

import "time"

// JobRecord — запись задания печати в очереди.
// Хранится в таблице print_queue.
type JobRecord struct {
	// ID — UUID записи, присваивается при enqueue, неизменяемый
	ID string
	// StoredName — имя backing-файла в директории загрузок
	// (генерируется, оригинальное имя — только метаданные)
	StoredName string
	// OriginalName — человекочитаемое имя файла от submitter
	OriginalName string
	// SubmitterName — отображаемое имя submitter (может меняться)
	SubmitterName string
	// SubmitterIdentity — стабильный ключ владения (sub из JWT)
	SubmitterIdentity string
	// EnqueuedAt — время постановки в очередь, первичный ключ порядка
	EnqueuedAt time.Time
	// Seq — монотонный tiebreaker порядка при совпадении EnqueuedAt
	Seq int64
	// Override — информационный флаг, на порядок и удаление не влияет
	Override bool
}
