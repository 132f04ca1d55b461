package ports

import (
	"context"

	"github.com/zknpr/Telegram2txt/internal/domain"
)

// ChatResolver определяет интерфейс для разрешения пользовательского
// идентификатора чата (username или числовой ID) в конкретный чат.
type ChatResolver interface {
	// ResolveChat разрешает ссылку на чат. Неудача разрешения терминальна
	// для запуска, повторы не выполняются.
	ResolveChat(ctx context.Context, ref string) (domain.Chat, error)
}

// HistorySource определяет интерфейс постраничного чтения истории
// разрешенного чата в хронологическом порядке.
type HistorySource interface {
	// PageAfter возвращает до limit сообщений с ID строго больше afterID,
	// упорядоченных по возрастанию. Пустая страница означает конец истории.
	PageAfter(ctx context.Context, afterID, limit int) ([]domain.Message, error)
}

// TopicDirectory определяет интерфейс получения метаданных топиков форума.
type TopicDirectory interface {
	// TopicTitle возвращает отображаемое имя топика по его ID.
	TopicTitle(ctx context.Context, topicID int) (string, error)
}

// MediaFetcher определяет интерфейс скачивания содержимого вложения.
type MediaFetcher interface {
	// Download скачивает вложение в файл по указанному пути.
	Download(ctx context.Context, att domain.Attachment, path string) error
}

// TopicInfo — восстановленная из архива привязка топика к каталогу.
type TopicInfo struct {
	Title  string
	Folder string
}

// Archive определяет интерфейс хранилища архива на диске.
type Archive interface {
	// AppendMessage добавляет строку сообщения в лог места назначения.
	// topicLabel — имя топика сообщения, используемое в теге общего лога.
	AppendMessage(dest domain.Destination, msg domain.Message, topicLabel string) error
	// AppendMediaNote добавляет в лог места назначения строку-заметку о
	// судьбе вложения сообщения.
	AppendMediaNote(dest domain.Destination, msg domain.Message, topicLabel, note string) error
	// PlaceMedia размещает файл вложения сообщения в каталоге медиа места
	// назначения и возвращает имя размещенного файла. Содержимое пишется во
	// временный файл и переименовывается только при успехе write, поэтому
	// недокачанные файлы не попадают на место.
	PlaceMedia(ctx context.Context, dest domain.Destination, msg domain.Message, write func(ctx context.Context, path string) error) (string, error)
	// ResumeID возвращает наибольший ID сообщения, уже записанного в лог
	// места назначения, или 0, если лог пуст либо отсутствует.
	ResumeID(dest domain.Destination) int
	// Topics возвращает привязки топиков к каталогам, восстановленные из
	// существующего архива.
	Topics() map[int]TopicInfo
	// Dir возвращает корневой каталог архива чата.
	Dir() string
	// Close закрывает все открытые файлы логов.
	Close() error
}

// Reporter определяет интерфейс вывода итоговой сводки запуска.
type Reporter interface {
	Report(chat domain.Chat, stats domain.Stats, archiveDir string) error
}
