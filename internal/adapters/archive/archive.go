// Package archive владеет раскладкой архива чата на диске: журналами
// сообщений общего потока и топиков и размещением файлов медиа.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/pkg/fsname"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

const (
	globalLogName = "full_history.txt"
	topicLogName  = "history.txt"
	topicsDirName = "topics"
	mediaDirName  = "media"

	// timeLayout — формат временной метки в строках журнала.
	timeLayout = "2006-01-02 15:04:05"
)

// WriteError описывает сбой записи в архив. Несет место назначения и путь,
// чтобы вызывающая сторона могла сообщить, какая часть архива пострадала.
type WriteError struct {
	Destination string
	Path        string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("archive write to %q (%s): %v", e.Destination, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer реализует ports.Archive поверх каталога
// <output-root>/<ChatFolder>. Файлы журналов открываются в режиме добавления
// один раз и не переоткрываются между сообщениями.
type Writer struct {
	dir   string
	forum bool
	log   *slog.Logger

	mu sync.Mutex
	// files хранит открытые журналы, ключ — каталог топика ("" для общего потока).
	files map[string]*os.File
	// resume хранит наибольший записанный ID сообщения на место назначения.
	resume map[string]int
	// topics хранит привязки топиков, восстановленные из заголовков журналов.
	topics map[int]ports.TopicInfo
}

var _ ports.Archive = (*Writer)(nil)

// Option определяет функциональную опцию для конфигурации Writer.
type Option func(*Writer)

// WithLogger устанавливает логгер для Writer.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

// New открывает архив чата в каталоге root, создавая его при необходимости.
// Существующий архив сканируется: поврежденные хвостовые строки обрезаются,
// позиции возобновления и привязки топиков восстанавливаются из журналов.
func New(root string, chat domain.Chat, opts ...Option) (*Writer, error) {
	w := &Writer{
		dir:    filepath.Join(root, fsname.Sanitize(chat.Title)),
		forum:  chat.Forum,
		log:    slog.Default(),
		files:  make(map[string]*os.File),
		resume: make(map[string]int),
		topics: make(map[int]ports.TopicInfo),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, &WriteError{Destination: "global", Path: w.dir, Err: err}
	}

	if err := w.scanExisting(); err != nil {
		return nil, err
	}

	f, err := openAppend(filepath.Join(w.dir, globalLogName))
	if err != nil {
		return nil, &WriteError{Destination: "global", Path: filepath.Join(w.dir, globalLogName), Err: err}
	}
	w.files[""] = f

	return w, nil
}

// scanExisting восстанавливает состояние архива из предыдущих запусков.
func (w *Writer) scanExisting() error {
	globalPath := filepath.Join(w.dir, globalLogName)
	maxID, err := scanLog(globalPath)
	if err != nil {
		return &WriteError{Destination: "global", Path: globalPath, Err: err}
	}
	w.resume[""] = maxID

	topicsDir := filepath.Join(w.dir, topicsDirName)
	entries, err := os.ReadDir(topicsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &WriteError{Destination: "topics", Path: topicsDir, Err: err}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := entry.Name()
		path := filepath.Join(topicsDir, folder, topicLogName)

		topicID, title, headErr := readTopicHeader(path)
		if headErr != nil {
			w.log.Warn("Skipping topic directory without a readable header", "folder", folder, "error", headErr)
			continue
		}

		maxID, scanErr := scanLog(path)
		if scanErr != nil {
			return &WriteError{Destination: folder, Path: path, Err: scanErr}
		}

		w.topics[topicID] = ports.TopicInfo{Title: title, Folder: folder}
		w.resume[folder] = maxID
	}

	if len(w.topics) > 0 {
		w.log.Info("Recovered topic folders from existing archive", "topics", len(w.topics))
	}
	return nil
}

// AppendMessage добавляет строку сообщения в журнал места назначения.
func (w *Writer) AppendMessage(dest domain.Destination, msg domain.Message, topicLabel string) error {
	line := w.formatLine(dest, msg, topicLabel, flattenText(msg.Text))
	return w.append(dest, line)
}

// AppendMediaNote добавляет в журнал строку-заметку о судьбе вложения.
func (w *Writer) AppendMediaNote(dest domain.Destination, msg domain.Message, topicLabel, note string) error {
	line := w.formatLine(dest, msg, topicLabel, "[MEDIA: "+note+"]")
	return w.append(dest, line)
}

// formatLine строит одну строку журнала. Тег топика присутствует только в
// общем журнале форумного чата.
func (w *Writer) formatLine(dest domain.Destination, msg domain.Message, topicLabel, payload string) string {
	tag := ""
	if dest.IsGlobal() && w.forum {
		tag = fmt.Sprintf(" [Topic: %s]", topicLabel)
	}
	return fmt.Sprintf("[%s] #%d%s <%s> %s\n", msg.Date.Format(timeLayout), msg.ID, tag, msg.Sender, payload)
}

func (w *Writer) append(dest domain.Destination, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.file(dest)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		return &WriteError{Destination: destName(dest), Path: f.Name(), Err: err}
	}
	return nil
}

// file возвращает открытый журнал места назначения, создавая каталог и файл
// при первом обращении. Вызывается под w.mu.
func (w *Writer) file(dest domain.Destination) (*os.File, error) {
	if f, ok := w.files[dest.Folder]; ok {
		return f, nil
	}

	dir := w.destDir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &WriteError{Destination: destName(dest), Path: dir, Err: err}
	}

	logName := topicLogName
	if dest.IsGlobal() {
		logName = globalLogName
	}
	path := filepath.Join(dir, logName)
	info, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	f, err := openAppend(path)
	if err != nil {
		return nil, &WriteError{Destination: destName(dest), Path: path, Err: err}
	}

	// Заголовок пришпиливает привязку topicID -> каталог между запусками.
	if fresh && !dest.IsGlobal() {
		header := fmt.Sprintf("# Topic %d: %s\n", dest.TopicID, dest.Name)
		if _, err := f.WriteString(header); err != nil {
			_ = f.Close()
			return nil, &WriteError{Destination: destName(dest), Path: path, Err: err}
		}
	}

	w.files[dest.Folder] = f
	if !dest.IsGlobal() {
		w.topics[dest.TopicID] = ports.TopicInfo{Title: dest.Name, Folder: dest.Folder}
	}
	return f, nil
}

// PlaceMedia размещает файл вложения сообщения в каталоге media места
// назначения. Содержимое сначала пишется во временный файл и попадает на
// финальное имя только после успешного завершения write.
func (w *Writer) PlaceMedia(ctx context.Context, dest domain.Destination, msg domain.Message, write func(ctx context.Context, path string) error) (string, error) {
	dir := filepath.Join(w.destDir(dest), mediaDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Destination: destName(dest), Path: dir, Err: err}
	}

	name := fsname.MediaFileName(msg)
	tmp := filepath.Join(dir, "."+name+".tmp-"+uuid.NewString())
	if err := write(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", &WriteError{Destination: destName(dest), Path: final, Err: err}
	}
	return name, nil
}

// ResumeID возвращает наибольший ID сообщения, уже записанного в журнал
// места назначения.
func (w *Writer) ResumeID(dest domain.Destination) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resume[dest.Folder]
}

// Topics возвращает привязки топиков, восстановленные из архива.
func (w *Writer) Topics() map[int]ports.TopicInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[int]ports.TopicInfo, len(w.topics))
	for id, info := range w.topics {
		out[id] = info
	}
	return out
}

// Dir возвращает корневой каталог архива чата.
func (w *Writer) Dir() string {
	return w.dir
}

// Close закрывает все открытые журналы.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for folder, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, folder)
	}
	return firstErr
}

func (w *Writer) destDir(dest domain.Destination) string {
	if dest.IsGlobal() {
		return w.dir
	}
	return filepath.Join(w.dir, topicsDirName, dest.Folder)
}

func destName(dest domain.Destination) string {
	if dest.IsGlobal() {
		return "global"
	}
	return dest.Folder
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// flattenText заменяет переводы строк видимой последовательностью, сохраняя
// контракт "одно сообщение — одна строка журнала".
func flattenText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", `\n`)
}
