package domain

import "time"

// MediaKind описывает тип вложения, определенный один раз при приеме сообщения.
type MediaKind string

const (
	// MediaNone означает, что у сообщения нет вложения.
	MediaNone MediaKind = ""
	// MediaImage — фотографии и документы с image/* mime-типом.
	MediaImage MediaKind = "image"
	// MediaAudio — аудио и голосовые сообщения.
	MediaAudio MediaKind = "audio"
	// MediaVideo — видео и видеосообщения.
	MediaVideo MediaKind = "video"
	// MediaOther — документы, не подходящие под известные типы.
	MediaOther MediaKind = "other"
)

// Chat представляет разрешенный чат, с которым работает текущий запуск.
// Разрешается один раз и далее не изменяется.
type Chat struct {
	ID    int64
	Title string
	// Forum истинно для супергрупп с включенными топиками.
	Forum bool
	// Protected истинно для чатов с запретом пересылки и скачивания контента.
	Protected bool
}

// Attachment описывает вложение сообщения. Kind и Size читаются из метаданных
// сообщения, без дополнительных сетевых вызовов.
type Attachment struct {
	Kind MediaKind
	// Size — размер в байтах; 0, если размер неизвестен.
	Size int64
	// Filename — исходное имя файла, если оно есть в метаданных.
	Filename string
	// MimeType — mime-тип документа, если известен.
	MimeType string
	// Ref — непрозрачная ссылка на медиа-объект платформы,
	// используется загрузчиком для получения содержимого.
	Ref any
}

// Message представляет одно сообщение истории чата.
type Message struct {
	// ID — монотонный идентификатор сообщения в чате.
	ID     int
	Date   time.Time
	Sender string
	Text   string
	// TopicID — идентификатор топика форума; 0, если сообщение вне топика.
	TopicID int
	// Media описывает вложение; Media.Kind == MediaNone, если вложения нет.
	Media Attachment
}

// HasMedia сообщает, несет ли сообщение вложение.
func (m Message) HasMedia() bool {
	return m.Media.Kind != MediaNone
}

// Destination — логическое место назначения сообщения: общий поток чата
// или поток конкретного топика.
type Destination struct {
	// TopicID равен 0 для общего потока.
	TopicID int
	// Name — отображаемое имя топика ("" для общего потока).
	Name string
	// Folder — безопасное для файловой системы имя каталога топика.
	Folder string
}

// Global — место назначения общего потока чата.
var Global = Destination{}

// IsGlobal сообщает, является ли место назначения общим потоком.
func (d Destination) IsGlobal() bool {
	return d.TopicID == 0
}

// Stats — счетчики одного запуска, попадающие в итоговую сводку.
type Stats struct {
	// Messages — количество сообщений, прочитанных из истории.
	Messages int
	// Archived — количество сообщений, записанных хотя бы в один лог.
	Archived int
	// MediaDownloaded — успешно скачанные вложения.
	MediaDownloaded int
	// MediaSkipped — вложения, пропущенные из-за выключенной загрузки медиа.
	MediaSkipped int
	// MediaFiltered — вложения, отклоненные фильтром по типу или размеру.
	MediaFiltered int
	// MediaProtected — вложения, запрещенные к скачиванию защитой контента.
	MediaProtected int
	// MediaFailed — вложения, скачивание которых исчерпало повторы.
	MediaFailed int
	// Topics — количество различных топиков, встреченных за запуск.
	Topics int
	// LastID — идентификатор последнего успешно обработанного сообщения.
	LastID int
}
