package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zknpr/Telegram2txt/internal/domain"
	"github.com/zknpr/Telegram2txt/internal/ports"
)

// ErrInterrupted возвращается из Run, когда запуск был прерван. Частичный
// архив остается корректным и пригодным для возобновления.
var ErrInterrupted = errors.New("backup interrupted")

// FetchError описывает вложение, скачивание которого исчерпало повторы.
// Текст сообщения при этом уже записан; проваливается только медиа.
type FetchError struct {
	MessageID int
	Attempts  int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("media fetch for message %d failed after %d attempts: %v", e.MessageID, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// progressEvery задает частоту строк прогресса в логе.
const progressEvery = 50

// BackupDeps — внешние сотрудники оркестратора.
type BackupDeps struct {
	Resolver ports.ChatResolver
	Source   ports.HistorySource
	Topics   ports.TopicDirectory
	Fetcher  ports.MediaFetcher
	// ArchiveFor открывает архив разрешенного чата. Отложено до разрешения,
	// потому что каталог архива выводится из имени чата.
	ArchiveFor func(chat domain.Chat) (ports.Archive, error)
}

// BackupConfig — параметры одного запуска.
type BackupConfig struct {
	Chat          string
	PageSize      int
	DownloadMedia bool
	MediaWorkers  int
	MaxRetries    int
}

// BackupOption определяет функциональную опцию для настройки BackupService.
type BackupOption func(*BackupService)

// WithLogger устанавливает логгер для сервиса.
func WithLogger(l *slog.Logger) BackupOption {
	return func(s *BackupService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetryInterval устанавливает начальный интервал экспоненциального
// повтора временных ошибок.
func WithRetryInterval(d time.Duration) BackupOption {
	return func(s *BackupService) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithMediaFilter устанавливает фильтр вложений.
func WithMediaFilter(f *MediaFilter) BackupOption {
	return func(s *BackupService) {
		if f != nil {
			s.filter = f
		}
	}
}

// BackupService управляет экспортом истории одного чата: разрешением чата,
// постраничным обходом истории, маршрутизацией сообщений по местам
// назначения, записью журналов и скачиванием вложений. Пагинация и запись
// строк строго последовательны; параллелится только скачивание медиа,
// ограниченным пулом воркеров в пределах одной страницы.
type BackupService struct {
	deps   BackupDeps
	cfg    BackupConfig
	filter *MediaFilter
	log    *slog.Logger

	retryInterval time.Duration
}

// NewBackupService создает новый BackupService.
func NewBackupService(deps BackupDeps, cfg BackupConfig, opts ...BackupOption) *BackupService {
	s := &BackupService{
		deps:          deps,
		cfg:           cfg,
		filter:        NewMediaFilter(FilterAll, 0),
		log:           slog.Default(),
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run выполняет экспорт от начала (или от позиции возобновления) до конца
// истории. Возвращаемая статистика заполнена и при ошибке: она описывает
// фактически записанную часть архива.
func (s *BackupService) Run(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats

	chat, err := s.deps.Resolver.ResolveChat(ctx, s.cfg.Chat)
	if err != nil {
		return stats, fmt.Errorf("chat resolution failed: %w", err)
	}
	s.log.InfoContext(ctx, "Resolved chat", "chat_id", chat.ID, "title", chat.Title, "forum", chat.Forum, "protected", chat.Protected)

	arch, err := s.deps.ArchiveFor(chat)
	if err != nil {
		return stats, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		if closeErr := arch.Close(); closeErr != nil {
			s.log.Warn("Failed to close archive cleanly", "error", closeErr)
		}
	}()

	router := NewTopicRouter(s.deps.Topics, s.log)
	router.Seed(arch.Topics())

	downloadMedia := s.cfg.DownloadMedia
	if chat.Protected && downloadMedia {
		// Единственное уведомление на запуск, без пер-сообщенных ошибок.
		s.log.WarnContext(ctx, "Chat has protected content, media download is disabled for this run", "chat_id", chat.ID)
		downloadMedia = false
	}

	pool := s.startFetchPool(ctx, arch)

	runErr := s.paginate(ctx, arch, router, pool, downloadMedia, &stats)

	// Запуск не завершен, пока не осели все скачивания.
	pool.settle()
	stats.Topics = router.Known()

	if runErr != nil {
		return stats, runErr
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	s.log.InfoContext(ctx, "Backup completed",
		"messages", stats.Messages,
		"archived", stats.Archived,
		"media_downloaded", stats.MediaDownloaded,
		"last_id", stats.LastID,
	)
	return stats, nil
}

// paginate обходит историю страницами по возрастанию ID и фиксирует каждую
// страницу. Пустая страница означает конец истории. Любое досрочное
// завершение обхода оставляет архив возобновляемым, поэтому и отмена, и
// исчерпание повторов пагинации сообщаются как прерывание.
func (s *BackupService) paginate(ctx context.Context, arch ports.Archive, router *TopicRouter, pool *fetchPool, downloadMedia bool, stats *domain.Stats) error {
	cursor := arch.ResumeID(domain.Global)
	if cursor > 0 {
		// Последнее записанное сообщение перечитывается: его строки могли
		// попасть не во все места назначения перед прерыванием, пропуск по
		// позициям возобновления закроет пробел без дублей.
		cursor--
		s.log.InfoContext(ctx, "Resuming from existing archive", "after_id", cursor)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		var page []domain.Message
		err := s.withRetry(ctx, func() error {
			var pageErr error
			page, pageErr = s.deps.Source.PageAfter(ctx, cursor, s.cfg.PageSize)
			return pageErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			return fmt.Errorf("%w: history pagination failed after message %d: %v", ErrInterrupted, stats.LastID, err)
		}
		if len(page) == 0 {
			return nil
		}

		if err := s.processPage(ctx, arch, router, pool, downloadMedia, page, stats); err != nil {
			return err
		}
		cursor = page[len(page)-1].ID
	}
}

// pageItem — сообщение страницы вместе с его маршрутом и решением по
// вложению: синхронная заметка либо канал исхода запущенного скачивания.
type pageItem struct {
	msg   domain.Message
	dests []domain.Destination
	label string
	write bool

	note     string
	noteStat *int
	fetch    chan fetchOutcome
}

// processPage фиксирует страницу в два прохода: сначала все скачивания
// страницы уходят в пул, затем строки пишутся строго по порядку сообщений.
// Строка сообщения с вложением не пишется, пока его скачивание не осело,
// поэтому в журнале не бывает строки с вложением без заметки о его судьбе и
// прерывание в любой точке не теряет медиа: незафиксированные сообщения
// перечитываются при следующем запуске.
func (s *BackupService) processPage(ctx context.Context, arch ports.Archive, router *TopicRouter, pool *fetchPool, downloadMedia bool, page []domain.Message, stats *domain.Stats) error {
	items := make([]pageItem, 0, len(page))
	for _, msg := range page {
		it := pageItem{msg: msg, label: "General"}
		it.dests = router.Route(ctx, msg)
		if len(it.dests) > 1 {
			it.label = it.dests[len(it.dests)-1].Name
		}
		for _, dest := range it.dests {
			if msg.ID > arch.ResumeID(dest) {
				it.write = true
				break
			}
		}
		if it.write && msg.HasMedia() {
			s.prepareMedia(ctx, pool, &it, downloadMedia, stats)
		}
		items = append(items, it)
	}

	for _, it := range items {
		if err := s.commit(ctx, arch, it, stats); err != nil {
			return err
		}
	}
	return nil
}

// prepareMedia применяет фильтр и либо назначает заметку сразу, либо ставит
// скачивание в очередь пула.
func (s *BackupService) prepareMedia(ctx context.Context, pool *fetchPool, it *pageItem, downloadMedia bool, stats *domain.Stats) {
	switch {
	case !downloadMedia:
		it.note = "Not downloaded"
		it.noteStat = &stats.MediaSkipped
	case !s.filter.KindAllowed(it.msg.Media):
		it.note = fmt.Sprintf("Filtered (%s)", it.msg.Media.Kind)
		it.noteStat = &stats.MediaFiltered
	case !s.filter.SizeAllowed(it.msg.Media):
		it.note = fmt.Sprintf("Too large (%db)", it.msg.Media.Size)
		it.noteStat = &stats.MediaFiltered
	default:
		it.fetch = pool.submit(ctx, it.msg, it.dests[len(it.dests)-1])
	}
}

// commit пишет строки одного сообщения во все его места назначения, дождавшись
// исхода скачивания, если оно было запущено.
func (s *BackupService) commit(ctx context.Context, arch ports.Archive, it pageItem, stats *domain.Stats) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	stats.Messages++

	note := it.note
	if it.fetch != nil {
		select {
		case res := <-it.fetch:
			settled, ok := s.settleFetch(ctx, res, it.msg, stats)
			if !ok {
				return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			note = settled
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
	}

	if it.write {
		for _, dest := range it.dests {
			if it.msg.ID <= arch.ResumeID(dest) {
				continue
			}
			if err := arch.AppendMessage(dest, it.msg, it.label); err != nil {
				return fmt.Errorf("failed to archive message %d: %w", it.msg.ID, err)
			}
			if note != "" {
				if err := arch.AppendMediaNote(dest, it.msg, it.label, note); err != nil {
					return fmt.Errorf("failed to archive media note for message %d: %w", it.msg.ID, err)
				}
			}
		}
		stats.Archived++
		if it.noteStat != nil {
			*it.noteStat++
		}
	}
	stats.LastID = it.msg.ID

	if stats.Messages%progressEvery == 0 {
		s.log.InfoContext(ctx, "Progress",
			"messages", stats.Messages,
			"last_id", it.msg.ID,
			"media_downloaded", stats.MediaDownloaded,
			"media_failed", stats.MediaFailed,
		)
	}
	return nil
}

// settleFetch превращает исход скачивания в заметку журнала и счетчик.
// Второй результат ложен, когда запуск отменен и заметку писать нельзя:
// отмененное скачивание не оставляет следов в журнале, сообщение будет
// перечитано при следующем запуске.
func (s *BackupService) settleFetch(ctx context.Context, res fetchOutcome, msg domain.Message, stats *domain.Stats) (string, bool) {
	switch {
	case res.err == nil:
		stats.MediaDownloaded++
		return res.name, true
	case errors.Is(res.err, domain.ErrMediaRestricted):
		stats.MediaProtected++
		return "Protected Content - Download Denied", true
	case ctx.Err() != nil:
		return "", false
	default:
		stats.MediaFailed++
		fetchErr := &FetchError{MessageID: msg.ID, Attempts: s.cfg.MaxRetries + 1, Err: res.err}
		s.log.Warn("Media fetch exhausted retries", "message_id", msg.ID, "error", fetchErr)
		return fmt.Sprintf("Failed - %v", res.err), true
	}
}

// withRetry повторяет временные ошибки с экспоненциальной задержкой до
// исчерпания лимита попыток. Ошибки с известной паузой (ограничение частоты
// запросов) выдерживают ровно сообщенную платформой паузу вместо очередного
// экспоненциального интервала.
func (s *BackupService) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval

	var pause time.Duration
	aware := &pauseAwareBackOff{base: bo, pause: &pause}
	policy := backoff.WithContext(backoff.WithMaxRetries(aware, uint64(s.cfg.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		var ra *domain.RetryAfterError
		if errors.As(err, &ra) {
			s.log.Warn("Rate limited, honoring requested pause", "pause", ra.After)
			pause = ra.After
		}
		return err
	}, policy)
}

// pauseAwareBackOff подменяет очередной интервал паузой, сообщенной
// платформой, чтобы она не складывалась с экспоненциальной задержкой.
type pauseAwareBackOff struct {
	base  backoff.BackOff
	pause *time.Duration
}

func (b *pauseAwareBackOff) NextBackOff() time.Duration {
	if d := *b.pause; d > 0 {
		*b.pause = 0
		return d
	}
	return b.base.NextBackOff()
}

func (b *pauseAwareBackOff) Reset() {
	b.base.Reset()
}

// fetchTask — задание пулу на скачивание вложения одного сообщения.
type fetchTask struct {
	msg   domain.Message
	dest  domain.Destination
	reply chan fetchOutcome
}

// fetchOutcome — исход скачивания, классифицируемый потоком пагинации.
type fetchOutcome struct {
	name string
	err  error
}

// fetchPool — ограниченный пул скачивания вложений. Исход каждого задания
// возвращается потоку пагинации через канал задания; все строки журналов
// пишет только он.
type fetchPool struct {
	svc  *BackupService
	arch ports.Archive

	tasks   chan fetchTask
	wg      sync.WaitGroup
	settled sync.Once
}

// startFetchPool запускает воркеров скачивания.
func (s *BackupService) startFetchPool(ctx context.Context, arch ports.Archive) *fetchPool {
	p := &fetchPool{
		svc:   s,
		arch:  arch,
		tasks: make(chan fetchTask, s.cfg.MediaWorkers*2),
	}
	for i := 0; i < s.cfg.MediaWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// submit ставит скачивание в очередь и возвращает канал его исхода. При
// отмене запуска исход с ошибкой контекста доставляется немедленно.
func (p *fetchPool) submit(ctx context.Context, msg domain.Message, dest domain.Destination) chan fetchOutcome {
	reply := make(chan fetchOutcome, 1)
	select {
	case p.tasks <- fetchTask{msg: msg, dest: dest, reply: reply}:
	case <-ctx.Done():
		reply <- fetchOutcome{err: ctx.Err()}
	}
	return reply
}

// settle закрывает очередь и дожидается выхода воркеров. Каналы исходов
// буферизованы, поэтому оставшиеся задания оседают без читателя.
func (p *fetchPool) settle() {
	p.settled.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}

func (p *fetchPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		task.reply <- p.fetch(ctx, task)
	}
}

// fetch скачивает вложение с повторами.
func (p *fetchPool) fetch(ctx context.Context, task fetchTask) fetchOutcome {
	var name string
	err := p.svc.withRetry(ctx, func() error {
		var placeErr error
		name, placeErr = p.arch.PlaceMedia(ctx, task.dest, task.msg, func(ctx context.Context, path string) error {
			return p.svc.deps.Fetcher.Download(ctx, task.msg.Media, path)
		})
		if errors.Is(placeErr, domain.ErrMediaRestricted) {
			return backoff.Permanent(placeErr)
		}
		return placeErr
	})
	if err != nil {
		return fetchOutcome{err: err}
	}
	return fetchOutcome{name: name}
}
