package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/pkg/fsname"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

// TopicRouter разрешает место назначения сообщения: общий поток и, для
// сообщений с топиком, поток этого топика. Имя топика запрашивается у
// справочника не более одного раза на топик за запуск; привязка топика к
// каталогу стабильна на все время запуска. Состояние принадлежит экземпляру
// роутера, процессных синглтонов нет.
type TopicRouter struct {
	dir ports.TopicDirectory
	log *slog.Logger

	// titles и folders растут монотонно, записи никогда не вытесняются.
	titles  map[int]string
	folders map[int]string
	// taken отслеживает занятые имена каталогов для разрешения коллизий.
	taken map[string]bool
}

// NewTopicRouter создает новый TopicRouter.
func NewTopicRouter(dir ports.TopicDirectory, log *slog.Logger) *TopicRouter {
	if log == nil {
		log = slog.Default()
	}
	return &TopicRouter{
		dir:     dir,
		log:     log,
		titles:  make(map[int]string),
		folders: make(map[int]string),
		taken:   make(map[string]bool),
	}
}

// Seed предзаполняет роутер привязками топиков из существующего архива,
// чтобы возобновленный запуск писал в те же каталоги.
func (r *TopicRouter) Seed(topics map[int]ports.TopicInfo) {
	for id, info := range topics {
		r.titles[id] = info.Title
		r.folders[id] = info.Folder
		r.taken[info.Folder] = true
	}
}

// Route возвращает места назначения сообщения: всегда общий поток, и
// дополнительно поток топика, если сообщение его несет.
func (r *TopicRouter) Route(ctx context.Context, msg domain.Message) []domain.Destination {
	if msg.TopicID == 0 {
		return []domain.Destination{domain.Global}
	}

	title, folder := r.topic(ctx, msg.TopicID)
	return []domain.Destination{
		domain.Global,
		{TopicID: msg.TopicID, Name: title, Folder: folder},
	}
}

// Known возвращает количество различных топиков, встреченных роутером.
func (r *TopicRouter) Known() int {
	return len(r.folders)
}

// topic возвращает имя и каталог топика, выполняя внешний поиск имени при
// первой встрече с топиком.
func (r *TopicRouter) topic(ctx context.Context, topicID int) (string, string) {
	if folder, ok := r.folders[topicID]; ok {
		return r.titles[topicID], folder
	}

	title, err := r.dir.TopicTitle(ctx, topicID)
	if err != nil {
		// Недоступные метаданные не фатальны: топик получает имя по ID.
		title = fmt.Sprintf("Topic_%d", topicID)
		r.log.WarnContext(ctx, "Topic title lookup failed, using fallback name", "topic_id", topicID, "fallback", title, "error", err)
	}

	folder := r.claimFolder(fsname.Sanitize(title))
	r.titles[topicID] = title
	r.folders[topicID] = folder
	r.log.DebugContext(ctx, "Discovered new topic", "topic_id", topicID, "title", title, "folder", folder)
	return title, folder
}

// claimFolder резервирует свободное имя каталога, добавляя числовой суффикс
// при совпадении санитизированных имен разных топиков.
func (r *TopicRouter) claimFolder(base string) string {
	name := base
	for i := 2; r.taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	r.taken[name] = true
	return name
}
