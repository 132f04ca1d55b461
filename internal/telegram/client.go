package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/zknpr/Telegram2txt/internal/domain"
	trm "github.com/zknpr/Telegram2txt/internal/pkg/term"
)

var (
	// ErrFloodWaitActive возвращается, когда клиент не может выполнить запрос из-за активного ограничения FLOOD_WAIT.
	ErrFloodWaitActive = errors.New("client is in flood wait")
	// floodWaitRegex используется для парсинга длительности ожидания из сообщения об ошибке.
	floodWaitRegex = regexp.MustCompile(`FLOOD_WAIT \((\d+)\)`)
)

// telegramAPI представляет необработанные методы API, которые мы используем.
type telegramAPI interface {
	UsersGetUsers(ctx context.Context, request []tg.InputUserClass) ([]tg.UserClass, error)
	ContactsResolveUsername(ctx context.Context, req *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesGetDialogs(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	MessagesGetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	ChannelsGetForumTopicsByID(ctx context.Context, req *tg.ChannelsGetForumTopicsByIDRequest) (*tg.MessagesForumTopics, error)
}

// telegramAuth представляет клиент аутентификации.
type telegramAuth interface {
	auth.FlowClient
}

// telegramRunner определяет зависимости от клиента gotd.
// Это позволяет создавать моки в тестах.
type telegramRunner interface {
	Run(ctx context.Context, f func(ctx context.Context) error) error
	API() telegramAPI
	Auth() telegramAuth
}

// prodRunner является оберткой вокруг реального *telegram.Client для удовлетворения интерфейса telegramRunner.
type prodRunner struct {
	*telegram.Client
}

func (p *prodRunner) API() telegramAPI {
	return p.Client.API()
}

func (p *prodRunner) Auth() telegramAuth {
	return p.Client.Auth()
}

// authFlow определяет интерфейс для процесса аутентификации.
type authFlow interface {
	Run(ctx context.Context, client auth.FlowClient) error
}

// Client представляет собой потокобезопасный клиент для Telegram API,
// который инкапсулирует логику аутентификации, обработки ошибок FLOOD_WAIT и выполнения запросов.
type Client struct {
	id         string
	tgRunner   telegramRunner
	authFlow   authFlow
	downloadTo func(ctx context.Context, loc tg.InputFileLocationClass, path string) error
	isTerminal func(fd int) bool
	clock      func() time.Time
	log        *slog.Logger

	mu             sync.RWMutex
	unhealthyUntil time.Time
	ready          chan struct{}
	runErr         chan error
	startOnce      sync.Once
}

// Config содержит конфигурацию для создания нового клиента.
type Config struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionPath string
	// Logger — необязательный zap-логгер для внутренней диагностики gotd
	// (включается в отладочном режиме).
	Logger *zap.Logger
}

// ClientOption определяет функциональную опцию для конфигурации клиента.
type ClientOption func(*Client)

// WithLogger устанавливает логгер для клиента.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient создает новый экземпляр Client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	// Создаем аутентификатор для терминала.
	termAuth := trm.NewTerminal(cfg.PhoneNumber)

	// Настраиваем хранилище сессии: создается при первой успешной
	// аутентификации и переиспользуется в последующих запусках.
	sessionStorage := &session.FileStorage{Path: cfg.SessionPath}

	// Создаем и настраиваем базовый клиент gotd.
	tgClient := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: sessionStorage,
		Logger:         cfg.Logger,
	})

	c := &Client{
		id:       uuid.NewString(),
		tgRunner: &prodRunner{Client: tgClient},
		authFlow: auth.NewFlow(termAuth, auth.SendCodeOptions{}),
		downloadTo: func(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
			_, err := downloader.NewDownloader().Download(tgClient.API(), loc).ToPath(ctx, path)
			return err
		},
		isTerminal: func(fd int) bool { return term.IsTerminal(fd) },
		clock:      time.Now,
		log:        slog.Default(),
		ready:      make(chan struct{}),
		runErr:     make(chan error, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID возвращает уникальный идентификатор клиента.
func (c *Client) ID() string {
	return c.id
}

// Start запускает фоновый процесс клиента, включая аутентификацию.
// Должен быть вызван один раз перед использованием клиента.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			c.log.InfoContext(ctx, "Starting telegram client background runner", "client_id", c.id)
			err := c.tgRunner.Run(ctx, func(runCtx context.Context) error {
				// Проверяем статус аутентификации при запуске.
				if _, err := c.tgRunner.API().UsersGetUsers(runCtx, []tg.InputUserClass{&tg.InputUserSelf{}}); err != nil {
					// Если ошибка - это ожидаемое отсутствие сессии, логируем кратко.
					// Для всех остальных, непредвиденных ошибок, сохраняем полный вывод.
					if strings.Contains(err.Error(), "AUTH_KEY_UNREGISTERED") {
						c.log.WarnContext(runCtx, "Session check failed, attempting interactive auth", "client_id", c.id, "reason", "AUTH_KEY_UNREGISTERED")
					} else {
						c.log.WarnContext(runCtx, "Session check failed, attempting interactive auth", "client_id", c.id, "error", err)
					}
					if !c.isTerminal(int(os.Stdout.Fd())) {
						return fmt.Errorf("session is invalid and cannot perform interactive auth in non-terminal: %w", err)
					}
					if authErr := c.authFlow.Run(runCtx, c.tgRunner.Auth()); authErr != nil {
						return fmt.Errorf("interactive auth failed: %w", authErr)
					}
					c.log.InfoContext(runCtx, "Interactive auth successful, session saved", "client_id", c.id)
				}
				c.log.InfoContext(runCtx, "Telegram client authenticated and ready", "client_id", c.id)
				close(c.ready)

				// Держим соединение активным, пока не завершится контекст.
				<-runCtx.Done()
				return runCtx.Err()
			})

			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.ErrorContext(ctx, "Telegram client background runner exited with error", "client_id", c.id, "error", err)
			} else {
				c.log.InfoContext(ctx, "Telegram client background runner stopped", "client_id", c.id)
			}

			c.runErr <- err
			close(c.runErr)
		}()
	})
}

// Ready блокируется, пока клиент не аутентифицируется, либо возвращает
// ошибку запуска фонового процесса. Срока ожидания нет: интерактивная
// аутентификация (код из SMS, пароль) занимает столько, сколько нужно
// пользователю, и прерывается только отменой контекста.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case runErr, ok := <-c.runErr:
		if ok && runErr != nil {
			return fmt.Errorf("telegram client failed to start: %w", runErr)
		}
		return errors.New("telegram client stopped before becoming ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveUsername выполняет запрос ContactsResolveUsername.
func (c *Client) ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
	var result *tg.ContactsResolvedPeer
	c.log.DebugContext(ctx, "Executing API call: ContactsResolveUsername", "username", username)
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if err == nil {
			result = res
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrFloodWaitActive) {
		c.log.WarnContext(ctx, "API call ContactsResolveUsername failed", "username", username, "error", err)
	}
	return result, err
}

// DialogsPage выполняет запрос MessagesGetDialogs.
func (c *Client) DialogsPage(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	var result tg.MessagesDialogsClass
	c.log.DebugContext(ctx, "Executing API call: MessagesGetDialogs")
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetDialogs(ctx, req)
		if err == nil {
			result = res
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrFloodWaitActive) {
		c.log.WarnContext(ctx, "API call MessagesGetDialogs failed", "error", err)
	}
	return result, err
}

// HistoryPage выполняет запрос MessagesGetHistory.
func (c *Client) HistoryPage(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	var result tg.MessagesMessagesClass
	c.log.DebugContext(ctx, "Executing API call: MessagesGetHistory", "offset_id", req.OffsetID)
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetHistory(ctx, req)
		if err == nil {
			result = res
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrFloodWaitActive) {
		c.log.WarnContext(ctx, "API call MessagesGetHistory failed", "offset_id", req.OffsetID, "error", err)
	}
	return result, err
}

// ForumTopicsByID выполняет запрос ChannelsGetForumTopicsByID.
func (c *Client) ForumTopicsByID(ctx context.Context, channel *tg.InputChannel, topicIDs []int) (*tg.MessagesForumTopics, error) {
	var result *tg.MessagesForumTopics
	c.log.DebugContext(ctx, "Executing API call: ChannelsGetForumTopicsByID", "topics", topicIDs)
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().ChannelsGetForumTopicsByID(ctx, &tg.ChannelsGetForumTopicsByIDRequest{
			Channel: channel,
			Topics:  topicIDs,
		})
		if err == nil {
			result = res
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrFloodWaitActive) {
		c.log.WarnContext(ctx, "API call ChannelsGetForumTopicsByID failed", "topics", topicIDs, "error", err)
	}
	return result, err
}

// DownloadTo скачивает файл по локации во временный путь загрузчика.
func (c *Client) DownloadTo(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	c.log.DebugContext(ctx, "Executing media download", "path", path)
	err := c.do(ctx, func(ctx context.Context) error {
		return c.downloadTo(ctx, loc, path)
	})
	if err != nil && !errors.Is(err, ErrFloodWaitActive) {
		c.log.WarnContext(ctx, "Media download failed", "path", path, "error", err)
	}
	return err
}

// do — это основной метод, который выполняет всю работу.
// Он проверяет состояние, выполняет операцию и обрабатывает ошибки.
func (c *Client) do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := c.checkHealthStatus(); err != nil {
		c.log.WarnContext(ctx, "Client is unhealthy, aborting request", "error", err)
		return err
	}

	// Предполагается, что c.Start() был вызван, и клиент работает в фоновом режиме.
	opErr := f(ctx)

	if opErr != nil {
		// Обрабатываем специфичные ошибки, такие как FLOOD_WAIT.
		if wrapped := c.handleError(opErr); wrapped != nil {
			opErr = wrapped
		}

		// Также проверяем, не отвалился ли сам клиент.
		select {
		case runErr, ok := <-c.runErr:
			if ok && runErr != nil {
				return fmt.Errorf("telegram client is not running: %w (operation error: %v)", runErr, opErr)
			}
		default:
			// Клиент все еще работает, возвращаем ошибку операции.
		}
	}

	return opErr
}

// checkHealthStatus проверяет, не находится ли клиент в состоянии FLOOD_WAIT.
func (c *Client) checkHealthStatus() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.unhealthyUntil.IsZero() && c.clock().Before(c.unhealthyUntil) {
		wait := c.unhealthyUntil.Sub(c.clock())
		c.log.Debug("Health check failed: client is in flood wait", "until", c.unhealthyUntil)
		return &domain.RetryAfterError{After: wait, Err: ErrFloodWaitActive}
	}

	return nil
}

// handleError обрабатывает ошибки, ищет FLOOD_WAIT и обновляет состояние клиента.
// Для ошибок FLOOD_WAIT возвращает обертку с известной паузой до повтора.
func (c *Client) handleError(err error) error {
	waitDuration, ok := parseFloodWait(err)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.unhealthyUntil = c.clock().Add(waitDuration)
	c.log.Warn("Client got FLOOD_WAIT, set unhealthy", "wait_duration", waitDuration, "until", c.unhealthyUntil)
	return &domain.RetryAfterError{After: waitDuration, Err: err}
}

// parseFloodWait извлекает длительность ожидания из ошибки.
func parseFloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	matches := floodWaitRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0, false
	}

	seconds, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0, false
	}

	return time.Duration(seconds) * time.Second, true
}
