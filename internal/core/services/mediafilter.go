package services

import "github.com/zknpr/Telegram2txt/internal/domain"

// FilterAll — значение фильтра типа, пропускающее любые вложения.
const FilterAll = "all"

// MediaFilter решает, скачивать ли вложение, по двум независимым предикатам:
// фильтру типа и ограничению размера. Оценка чистая, без сетевых вызовов:
// тип и размер читаются из метаданных сообщения.
type MediaFilter struct {
	kind string
	// maxSize равен 0, если ограничение размера не задано.
	maxSize int64
}

// NewMediaFilter создает фильтр с заданным фильтром типа
// (image|audio|video|other|all) и максимальным размером в байтах.
func NewMediaFilter(kind string, maxSize int64) *MediaFilter {
	return &MediaFilter{kind: kind, maxSize: maxSize}
}

// KindAllowed сообщает, проходит ли вложение фильтр типа.
func (f *MediaFilter) KindAllowed(att domain.Attachment) bool {
	if att.Kind == domain.MediaNone {
		return false
	}
	return f.kind == FilterAll || string(att.Kind) == f.kind
}

// SizeAllowed сообщает, проходит ли вложение ограничение размера.
// Вложения неизвестного размера отклоняются, когда ограничение задано.
func (f *MediaFilter) SizeAllowed(att domain.Attachment) bool {
	if f.maxSize == 0 {
		return true
	}
	return att.Size > 0 && att.Size <= f.maxSize
}

// ShouldDownload сообщает, одобрено ли вложение к скачиванию.
// Оба предиката должны пройти.
func (f *MediaFilter) ShouldDownload(att domain.Attachment) bool {
	return f.KindAllowed(att) && f.SizeAllowed(att)
}
