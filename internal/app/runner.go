// Файл runner.go — точка оркестрации: сервисы запускаются в правильном
// порядке, проходы синхронизации идут через одиночный шлюз, а завершение
// работы даёт каждому узлу шанс корректно остановиться.
package app

import (
	"context"
	"sync"
	"time"

	"emby-adminbot/internal/adapters/boltstore"
	"emby-adminbot/internal/adapters/cli"
	"emby-adminbot/internal/adapters/emby"
	"emby-adminbot/internal/domain/commands"
	"emby-adminbot/internal/domain/directory"
	"emby-adminbot/internal/infra/config"
	"emby-adminbot/internal/infra/logger"
	"emby-adminbot/internal/infra/pr"
	"emby-adminbot/internal/web"
)

// Runner инкапсулирует сценарий запуска и остановки приложения.
// Отвечает за:
//   - стартовый и плановые проходы синхронизации (одиночный шлюз),
//   - линейный запуск сервисов в правильном порядке,
//   - корректное завершение: сначала фоновые циклы, затем веб-сервер и CLI.
type Runner struct {
	mainCtx    context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel context.CancelFunc // Функция, инициирующая общий shutdown.

	engine    *directory.Engine  // Движок полного прохода синхронизации.
	source    *emby.Client       // Клиент Emby (для статуса и конвейеров).
	store     *boltstore.Store   // Локальное зеркало с журналами.
	lifecycle *directory.Service // Конвейеры блокировки/разблокировки.

	cmdExecutor commands.Executor // Исполнитель команд (используется CLI и Web).
	cliService  *cli.Service      // CLI сервис для интерактивных команд.
	webServer   *web.Server       // Web-сервер для управления через браузер.

	// Одиночный шлюз: в каждый момент времени идёт не более одного прохода.
	gate sync.Mutex

	stateMu sync.Mutex
	state   commands.SyncState

	loopCancel context.CancelFunc // Отмена фонового цикла синхронизации.
	loopWG     sync.WaitGroup     // Ожидание завершения фонового цикла.
}

const webServerShutdownTimeout = 10 * time.Second

// NewRunner подготавливает Runner с переданными зависимостями.
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	engine *directory.Engine,
	source *emby.Client,
	store *boltstore.Store,
	lifecycle *directory.Service,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		engine:     engine,
		source:     source,
		store:      store,
		lifecycle:  lifecycle,
	}
}

// TriggerSync пропускает через шлюз один проход синхронизации.
// ok=false означает, что проход уже идёт: новый не ставится в очередь,
// вызывающая сторона получает отказ сразу.
func (r *Runner) TriggerSync(ctx context.Context) (directory.SyncReport, bool) {
	if !r.gate.TryLock() {
		return directory.SyncReport{}, false
	}
	defer r.gate.Unlock()

	r.setRunning(true)
	report := r.engine.RunFullSync(ctx)
	r.finishRun(report)
	return report, true
}

// State возвращает сведения о последнем проходе.
func (r *Runner) State() commands.SyncState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Runner) setRunning(v bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Running = v
}

func (r *Runner) finishRun(report directory.SyncReport) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Running = false
	r.state.LastRunAt = time.Now()
	r.state.LastReport = report
}

// Run — главный цикл приложения: запускает сервисы, блокируется до отмены
// внешнего контекста и останавливает всё в обратном порядке.
func (r *Runner) Run() error {
	r.startAllServices()

	<-r.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping runner...")
	r.stopAllServices()
	return nil
}

func (r *Runner) startAllServices() {
	// command executor
	logger.Debug("initializing command executor")
	r.cmdExecutor = commands.NewExecutor(r, r.source, r.store, r.lifecycle)
	logger.Debug("command executor initialized")

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.cmdExecutor, r.mainCancel)
	r.cliService.Start(r.mainCtx)
	logger.Debug("service cli started")

	// web server (если включен)
	if config.Env().WebServerEnable {
		logger.Debug("starting service web_server")
		r.webServer = web.NewServer(r.cmdExecutor)
		token := r.webServer.GenerateAuthToken()
		pr.Printf("Web interface: http://%s/?token=%s\n", config.Env().WebServerAddress, token)
		go func() {
			if err := r.webServer.Start(); err != nil {
				logger.Errorf("web server error: %v", err)
			}
		}()
		logger.Debug("service web_server started")
	}

	// sync_loop
	logger.Debug("starting service sync_loop")
	loopCtx, cancel := context.WithCancel(r.mainCtx)
	r.loopCancel = cancel
	r.loopWG.Add(1)
	go func() {
		defer r.loopWG.Done()
		r.syncLoop(loopCtx)
	}()
	logger.Debug("service sync_loop started")
}

// syncLoop выполняет стартовый проход и далее плановые с интервалом
// SYNC_INTERVAL_MIN. Нулевой интервал отключает расписание: остаются только
// стартовый и ручные проходы.
func (r *Runner) syncLoop(ctx context.Context) {
	if _, ok := r.TriggerSync(ctx); !ok {
		logger.Warn("startup sync skipped: another pass is already running")
	}

	intervalMin := config.Env().SyncIntervalMin
	if intervalMin <= 0 {
		logger.Info("scheduled sync is disabled (SYNC_INTERVAL_MIN=0)")
		return
	}

	ticker := time.NewTicker(time.Duration(intervalMin) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := r.TriggerSync(ctx); !ok {
				logger.Warn("scheduled sync skipped: another pass is already running")
			}
		}
	}
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке

	// sync_loop
	logger.Debug("stopping service sync_loop")
	if r.loopCancel != nil {
		r.loopCancel()
	}
	r.loopWG.Wait()
	logger.Debug("service sync_loop stopped")

	// web server
	if r.webServer != nil {
		logger.Debug("stopping service web_server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webServerShutdownTimeout)
		defer cancel()
		if err := r.webServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("failed to stop web_server: %v", err)
		}
		logger.Debug("service web_server stopped")
	}

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}
}
