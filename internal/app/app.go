// Package app — верхний уровень сборки приложения. Здесь связываются
// конфигурация, клиент Emby, хранилище зеркала, конвейеры блокировки и
// движок синхронизации. Отсюда стартует Runner, который оркестрирует
// жизненный цикл и корректный shutdown.
package app

import (
	"context"

	"github.com/go-faster/errors"

	"emby-adminbot/internal/adapters/boltstore"
	"emby-adminbot/internal/adapters/botapi"
	"emby-adminbot/internal/adapters/emby"
	"emby-adminbot/internal/domain/directory"
	"emby-adminbot/internal/infra/config"
	"emby-adminbot/internal/infra/logger"
)

// App агрегирует зависимости приложения и управляет их связью.
// Отвечает за:
//   - клиента Emby и локальное зеркало каталога,
//   - движок синхронизации и конвейеры блокировки,
//   - канал уведомлений администраторам,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.

	source    *emby.Client       // Клиент удалённого каталога Emby.
	store     *boltstore.Store   // Локальное зеркало с журналами.
	sink      *botapi.Notifier   // Канал уведомлений (nil, если не настроен).
	engine    *directory.Engine  // Движок полного прохода синхронизации.
	lifecycle *directory.Service // Конвейеры блокировки/разблокировки.
	runner    *Runner            // Оркестратор жизненного цикла и CLI.
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация
// выполняется в Init().
func NewApp() *App {
	return &App{}
}

// Init собирает зависимости по загруженной конфигурации. Вызывается один раз
// перед Run().
func (a *App) Init(mainCtx context.Context, mainCancel context.CancelFunc) error {
	a.mainCtx = mainCtx
	a.mainCancel = mainCancel

	env := config.Env()

	a.source = emby.NewClient(env.EmbyBaseURL, env.EmbyAPIKey, env.ThrottleRPS)
	if !a.source.Configured() {
		logger.Warn("Emby API is not configured; sync passes will be skipped")
	}

	store, err := boltstore.Open(env.DataFile)
	if err != nil {
		return errors.Wrap(err, "open data file")
	}
	a.store = store

	if config.NotifierConfigured() {
		a.sink = botapi.NewNotifier(env.BotToken, env.AdminChatID, env.ThrottleRPS)
	} else {
		logger.Warn("admin notifications are disabled (BOT_TOKEN/ADMIN_CHAT_ID not set)")
	}

	a.engine = directory.NewEngine(a.source, a.store, env.SyncPageSize)
	// Интерфейсный nil: если канал не настроен, сервису передаётся явный nil.
	var sink directory.NotificationSink
	if a.sink != nil {
		sink = a.sink
	}
	a.lifecycle = directory.NewService(a.source, a.store, sink)

	a.runner = NewRunner(a.mainCtx, a.mainCancel, a.engine, a.source, a.store, a.lifecycle)
	return nil
}

// Run запускает основной цикл приложения. Блокируется до остановки и
// возвращает ошибку, если что-то пошло не так.
func (a *App) Run() error {
	logger.Info("Adminbot initializing...")
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Errorf("close data file: %v", err)
		}
	}()
	return a.runner.Run()
}
