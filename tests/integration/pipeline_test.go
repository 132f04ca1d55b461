package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zknpr/Telegram2txt/internal/adapters/archive"
	"github.com/zknpr/Telegram2txt/internal/core/services"
	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

// Интеграционные тесты гоняют полный конвейер экспорта: настоящий сервис,
// настоящий архив на диске, источник истории в памяти.

const (
	topicRelease = 100
	topicHelp    = 200
)

func forumChat() domain.Chat {
	return domain.Chat{ID: 42, Title: "Dev Forum", Forum: true}
}

func forumMessages() []domain.Message {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	return []domain.Message{
		{ID: 1, Date: at(1), Sender: "alice", Text: "hello"},
		{ID: 2, Date: at(2), Sender: "bob", Text: "hi there"},
		{ID: 3, Date: at(3), Sender: "alice", Text: "release when?", TopicID: topicRelease},
		{ID: 4, Date: at(4), Sender: "carol", Text: "how to install?", TopicID: topicHelp},
		{ID: 5, Date: at(5), Sender: "alice", Text: "screenshot",
			Media: domain.Attachment{Kind: domain.MediaImage, Size: 1200}},
		{ID: 6, Date: at(6), Sender: "bob", Text: "", TopicID: topicRelease,
			Media: domain.Attachment{Kind: domain.MediaVideo, Size: 5_000_000, Filename: "demo.mp4", MimeType: "video/mp4"}},
		{ID: 7, Date: at(7), Sender: "alice", Text: "first\nsecond"},
		{ID: 8, Date: at(8), Sender: "carol", Text: "thanks!", TopicID: topicHelp},
		{ID: 9, Date: at(9), Sender: "bob", Text: "soon", TopicID: topicRelease},
		{ID: 10, Date: at(10), Sender: "alice", Text: "ok"},
		{ID: 11, Date: at(11), Sender: "bob", Text: "bye"},
		{ID: 12, Date: at(12), Sender: "carol", Text: "see you", TopicID: topicHelp},
	}
}

func newForumSource() *memSource {
	return &memSource{
		chat: forumChat(),
		msgs: forumMessages(),
		titles: map[int]string{
			topicRelease: "Release",
			topicHelp:    "Q&A / Help",
		},
		content: []byte("media-bytes"),
	}
}

func runBackup(t *testing.T, src *memSource, outDir string, downloadMedia bool, opts ...services.BackupOption) (domain.Stats, error) {
	t.Helper()
	return runBackupCtx(t, context.Background(), src, outDir, downloadMedia, opts...)
}

func runBackupCtx(t *testing.T, ctx context.Context, src *memSource, outDir string, downloadMedia bool, opts ...services.BackupOption) (domain.Stats, error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := services.BackupDeps{
		Resolver: src,
		Source:   src,
		Topics:   src,
		Fetcher:  src,
		ArchiveFor: func(chat domain.Chat) (ports.Archive, error) {
			return archive.New(outDir, chat, archive.WithLogger(logger))
		},
	}

	cfg := services.BackupConfig{
		Chat:          "@devforum",
		PageSize:      5,
		DownloadMedia: downloadMedia,
		MediaWorkers:  2,
		MaxRetries:    2,
	}

	opts = append([]services.BackupOption{
		services.WithLogger(logger),
		services.WithRetryInterval(time.Millisecond),
	}, opts...)

	svc := services.NewBackupService(deps, cfg, opts...)
	return svc.Run(ctx)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPipeline_ForumExportLayout(t *testing.T) {
	outDir := t.TempDir()
	src := newForumSource()

	stats, err := runBackup(t, src, outDir, true)
	require.NoError(t, err)

	require.Equal(t, 12, stats.Messages)
	require.Equal(t, 12, stats.Archived)
	require.Equal(t, 2, stats.Topics)
	require.Equal(t, 2, stats.MediaDownloaded)
	require.Equal(t, 12, stats.LastID)

	chatDir := filepath.Join(outDir, "Dev Forum")
	global := readFile(t, filepath.Join(chatDir, "full_history.txt"))

	// Точный формат строки общего журнала форумного чата.
	require.Contains(t, global, "[2025-05-01 10:01:00] #1 [Topic: General] <alice> hello\n")
	require.Contains(t, global, "[2025-05-01 10:03:00] #3 [Topic: Release] <alice> release when?\n")
	// Многострочный текст сворачивается в одну строку журнала.
	require.Contains(t, global, `#7 [Topic: General] <alice> first\nsecond`)

	// 12 сообщений и по одной заметке на каждое из двух вложений.
	require.Equal(t, 14, strings.Count(global, "\n"))

	// Журналы топиков: заголовок пришпиливает привязку, тег топика отсутствует.
	release := readFile(t, filepath.Join(chatDir, "topics", "Release", "history.txt"))
	require.True(t, strings.HasPrefix(release, "# Topic 100: Release\n"))
	require.Contains(t, release, "[2025-05-01 10:03:00] #3 <alice> release when?\n")
	require.NotContains(t, release, "[Topic:")

	// Имя каталога топика очищено от запрещенных символов.
	help := readFile(t, filepath.Join(chatDir, "topics", "Q&A Help", "history.txt"))
	require.True(t, strings.HasPrefix(help, "# Topic 200: Q&A / Help\n"))

	// Медиа общего потока лежит в media/ чата, медиа топика — в media/ топика.
	require.Equal(t, "media-bytes", readFile(t, filepath.Join(chatDir, "media", "msg_5.jpg")))
	require.Equal(t, "media-bytes", readFile(t, filepath.Join(chatDir, "topics", "Release", "media", "msg_6_demo.mp4")))

	// Заметки о вложениях в обоих журналах.
	require.Contains(t, global, "[MEDIA: msg_5.jpg]")
	require.Contains(t, global, "[MEDIA: msg_6_demo.mp4]")
	require.Contains(t, release, "[MEDIA: msg_6_demo.mp4]")
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	outDir := t.TempDir()
	src := newForumSource()

	_, err := runBackup(t, src, outDir, false)
	require.NoError(t, err)

	before := snapshotLogs(t, outDir)

	stats, err := runBackup(t, src, outDir, false)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Archived)

	require.Equal(t, before, snapshotLogs(t, outDir))
}

func TestPipeline_ResumeMatchesSingleRun(t *testing.T) {
	singleDir := t.TempDir()
	_, err := runBackup(t, newForumSource(), singleDir, false)
	require.NoError(t, err)

	// Прерванный запуск: источник обрывается после сообщения 7.
	resumedDir := t.TempDir()
	cut := newForumSource()
	cut.cutAfterID = 7
	_, err = runBackup(t, cut, resumedDir, false)
	require.Error(t, err)

	// Повторный запуск закрывает пробел без дублей.
	_, err = runBackup(t, newForumSource(), resumedDir, false)
	require.NoError(t, err)

	require.Equal(t, snapshotLogs(t, singleDir), snapshotLogs(t, resumedDir))
}

func TestPipeline_InterruptedMediaRecoveredOnRerun(t *testing.T) {
	singleDir := t.TempDir()
	_, err := runBackup(t, newForumSource(), singleDir, true)
	require.NoError(t, err)

	// Прерванный запуск: первое же скачивание зависает, запуск отменяется,
	// пока вложение в полете.
	resumedDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	var once sync.Once
	hung := newForumSource()
	hung.downloadHook = func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	go func() {
		<-started
		cancel()
	}()
	_, err = runBackupCtx(t, ctx, hung, resumedDir, true)
	require.ErrorIs(t, err, services.ErrInterrupted)

	// Сообщение с незавершенным скачиванием не зафиксировано: нет ни строки
	// без заметки, ни заметки без файла. Оно будет перечитано.
	global := readFile(t, filepath.Join(resumedDir, "Dev Forum", "full_history.txt"))
	require.NotContains(t, global, "[MEDIA:")

	// Чистый повторный запуск докачивает вложения и закрывает пробел.
	_, err = runBackup(t, newForumSource(), resumedDir, true)
	require.NoError(t, err)

	require.Equal(t, snapshotLogs(t, singleDir), snapshotLogs(t, resumedDir))
	chatDir := filepath.Join(resumedDir, "Dev Forum")
	require.Equal(t, "media-bytes", readFile(t, filepath.Join(chatDir, "media", "msg_5.jpg")))
	require.Equal(t, "media-bytes", readFile(t, filepath.Join(chatDir, "topics", "Release", "media", "msg_6_demo.mp4")))
}

func TestPipeline_CrashTailRepaired(t *testing.T) {
	cleanDir := t.TempDir()
	_, err := runBackup(t, newForumSource(), cleanDir, false)
	require.NoError(t, err)

	crashedDir := t.TempDir()
	cut := newForumSource()
	cut.cutAfterID = 9
	_, err = runBackup(t, cut, crashedDir, false)
	require.Error(t, err)

	// Имитация падения посреди записи строки: недописанный хвост без перевода строки.
	globalPath := filepath.Join(crashedDir, "Dev Forum", "full_history.txt")
	f, err := os.OpenFile(globalPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("[2025-05-01 10:1")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = runBackup(t, newForumSource(), crashedDir, false)
	require.NoError(t, err)

	require.Equal(t, snapshotLogs(t, cleanDir), snapshotLogs(t, crashedDir))
}

func TestPipeline_TopicFolderPinnedAfterRename(t *testing.T) {
	outDir := t.TempDir()
	_, err := runBackup(t, newForumSource(), outDir, false)
	require.NoError(t, err)

	// Топик переименован между запусками, появилось новое сообщение.
	renamed := newForumSource()
	renamed.titles[topicRelease] = "Release v2"
	renamed.msgs = append(renamed.msgs, domain.Message{
		ID: 13, Date: time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC),
		Sender: "alice", Text: "shipped", TopicID: topicRelease,
	})

	stats, err := runBackup(t, renamed, outDir, false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Archived)

	chatDir := filepath.Join(outDir, "Dev Forum")
	_, err = os.Stat(filepath.Join(chatDir, "topics", "Release v2"))
	require.True(t, os.IsNotExist(err), "renamed topic must keep its original folder")

	release := readFile(t, filepath.Join(chatDir, "topics", "Release", "history.txt"))
	require.Contains(t, release, "#13 <alice> shipped")
}

func TestPipeline_MediaFilterNotes(t *testing.T) {
	outDir := t.TempDir()
	src := newForumSource()

	// Только изображения, и не крупнее 1 МБ: видео отфильтровано по типу.
	filter := services.NewMediaFilter("image", 1_048_576)
	stats, err := runBackup(t, src, outDir, true, services.WithMediaFilter(filter))
	require.NoError(t, err)

	require.Equal(t, 1, stats.MediaDownloaded)
	require.Equal(t, 1, stats.MediaFiltered)

	global := readFile(t, filepath.Join(outDir, "Dev Forum", "full_history.txt"))
	require.Contains(t, global, "[MEDIA: msg_5.jpg]")
	require.Contains(t, global, "[MEDIA: Filtered (video)]")

	_, err = os.Stat(filepath.Join(outDir, "Dev Forum", "topics", "Release", "media", "msg_6_demo.mp4"))
	require.True(t, os.IsNotExist(err))
}

// snapshotLogs собирает содержимое всех журналов архива.
func snapshotLogs(t *testing.T, outDir string) map[string]string {
	t.Helper()

	logs := make(map[string]string)
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".txt") {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		logs[rel] = readFile(t, path)
		return nil
	})
	require.NoError(t, err)
	return logs
}
