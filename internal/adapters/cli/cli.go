// Package cli — интерактивная командная консоль администрирования.
// Сервис стартует фоном, читает команды из readline и выполняет их через
// общий commands.Executor — тот же, что обслуживает веб-интерфейс.
// Поддерживается корректная интеграция в lifecycle: Start/Stop идемпотентны.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"emby-adminbot/internal/domain/commands"
	"emby-adminbot/internal/infra/logger"
	"emby-adminbot/internal/infra/pr"
	"emby-adminbot/internal/infra/storage"
	"emby-adminbot/internal/infra/timeutil"
	versioninfo "emby-adminbot/internal/support/version"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "sync", description: "Run a full directory sync pass right now"},
	{name: "ban", description: "ban <user_id> <reason> - block a user and soft-delete the mirror row"},
	{name: "unban", description: "unban <user_id> [reason] - lift a block (ledgers only)"},
	{name: "bind", description: "bind <user_id> <emby_id> - link a messenger user to an Emby account"},
	{name: "records", description: "Print mirror rows, soft-deleted included"},
	{name: "history", description: "history <emby_id> - print snapshots of a record"},
	{name: "audit", description: "audit [target_id] - print audit ledger entries"},
	{name: "export", description: "export <file> - dump mirror rows to a JSON file"},
	{name: "status", description: "Show mirror counters and last sync pass"},
	{name: "version", description: "Print application version"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop(). Потокобезопасность обеспечивается
// дисциплиной запуска/остановки и отсутствием внешних мутаций.
type Service struct {
	exec      commands.Executor  // единый исполнитель административных команд
	stopApp   context.CancelFunc // внешняя отмена приложения (команда exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once          // идемпотентный запуск
	onceStop  sync.Once          // идемпотентная остановка
}

// NewService создаёт CLI-сервис. Параметр stopApp используется как «глобальная»
// остановка приложения.
func NewService(exec commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(runCtx)
		}()
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки, устанавливает обработчики
// клавиш и в цикле читает команды построчно, передавая их в handleCommand().
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	// Главный цикл чтения команд. Выход — по отмене контекста или по EOF от readline.
	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки (как в типичных CLI).
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую строку и выполняет соответствующее действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printCommandHelp()
	case "sync":
		s.handleSync(ctx)
	case "ban":
		s.handleBan(ctx, args)
	case "unban":
		s.handleUnban(ctx, args)
	case "bind":
		s.handleBind(ctx, args)
	case "records":
		s.handleRecords(ctx)
	case "history":
		s.handleHistory(ctx, args)
	case "audit":
		s.handleAudit(ctx, args)
	case "export":
		s.handleExport(ctx, args)
	case "status":
		s.handleStatus(ctx)
	case "version":
		pr.Println(fmt.Sprintf("%s v%s", versioninfo.AppName, versioninfo.Version))
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

func (s *Service) handleSync(ctx context.Context) {
	pr.Println("Running sync pass...")
	res, err := s.exec.Sync(ctx)
	if err != nil {
		pr.ErrPrintln("sync error:", err)
		return
	}
	pr.Printf("Sync done in %s: inserted=%d updated=%d deleted=%d\n",
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
		res.Report.Inserted, res.Report.Updated, res.Report.Deleted)
}

func (s *Service) handleBan(ctx context.Context, args []string) {
	if len(args) < 2 {
		pr.ErrPrintln("usage: ban <user_id> <reason>")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("bad user id:", args[0])
		return
	}
	res, err := s.exec.Ban(ctx, targetID, strings.Join(args[1:], " "))
	if err != nil {
		pr.ErrPrintln("ban error:", err)
		return
	}
	for _, step := range res.Steps {
		pr.Println(step.String())
	}
}

func (s *Service) handleUnban(ctx context.Context, args []string) {
	if len(args) < 1 {
		pr.ErrPrintln("usage: unban <user_id> [reason]")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("bad user id:", args[0])
		return
	}
	res, err := s.exec.Unban(ctx, targetID, strings.Join(args[1:], " "))
	if err != nil {
		pr.ErrPrintln("unban error:", err)
		return
	}
	for _, step := range res.Steps {
		pr.Println(step.String())
	}
}

func (s *Service) handleBind(ctx context.Context, args []string) {
	if len(args) != 2 {
		pr.ErrPrintln("usage: bind <user_id> <emby_id>")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("bad user id:", args[0])
		return
	}
	if err := s.exec.Bind(ctx, userID, args[1]); err != nil {
		pr.ErrPrintln("bind error:", err)
		return
	}
	pr.Printf("User %d bound to %s\n", userID, args[1])
}

func (s *Service) handleRecords(ctx context.Context) {
	res, err := s.exec.Records(ctx)
	if err != nil {
		pr.ErrPrintln("records error:", err)
		return
	}
	if len(res.Records) == 0 {
		pr.Println("Mirror is empty.")
		return
	}
	for _, rec := range res.Records {
		mark := " "
		if rec.IsDeleted {
			mark = "×"
		}
		pr.Printf("%s %-34s %-20s last_login=%s\n",
			mark, rec.ExternalID, rec.Name, timeutil.FormatTimePtr(rec.LastLoginDate))
	}
	pr.Printf("Total records: %d\n", len(res.Records))
}

func (s *Service) handleHistory(ctx context.Context, args []string) {
	if len(args) != 1 {
		pr.ErrPrintln("usage: history <emby_id>")
		return
	}
	res, err := s.exec.History(ctx, args[0])
	if err != nil {
		pr.ErrPrintln("history error:", err)
		return
	}
	if len(res.Snapshots) == 0 {
		pr.Println("No snapshots for", args[0])
		return
	}
	for _, snap := range res.Snapshots {
		pr.Printf("%s %-6s %s\n",
			snap.TakenAt.Format(time.RFC3339), snap.Action, snap.Remark)
	}
}

func (s *Service) handleAudit(ctx context.Context, args []string) {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	res, err := s.exec.Audit(ctx, target, time.Time{}, time.Time{})
	if err != nil {
		pr.ErrPrintln("audit error:", err)
		return
	}
	if len(res.Entries) == 0 {
		pr.Println("Audit ledger is empty.")
		return
	}
	for _, entry := range res.Entries {
		actor := "system"
		if entry.ActorID != 0 {
			actor = strconv.FormatInt(entry.ActorID, 10)
		}
		pr.Printf("%s %-13s actor=%-8s target=%s\n",
			entry.At.Format(time.RFC3339), entry.Action, actor, entry.TargetID)
	}
}

// handleExport сбрасывает все строки зеркала в JSON-файл. Запись атомарная,
// чтобы полузаписанный дамп не перетёр предыдущий при сбое.
func (s *Service) handleExport(ctx context.Context, args []string) {
	if len(args) != 1 {
		pr.ErrPrintln("usage: export <file>")
		return
	}
	res, err := s.exec.Records(ctx)
	if err != nil {
		pr.ErrPrintln("export error:", err)
		return
	}
	data, err := json.MarshalIndent(res.Records, "", "  ")
	if err != nil {
		pr.ErrPrintln("export error:", err)
		return
	}
	if err := storage.AtomicWriteFile(args[0], data); err != nil {
		pr.ErrPrintln("export error:", err)
		return
	}
	pr.Printf("Exported %d records to %s\n", len(res.Records), args[0])
}

// handleStatus печатает агрегированное состояние зеркала и последнего прохода
// синхронизации. Временные метки приводятся к локальной таймзоне приложения.
func (s *Service) handleStatus(ctx context.Context) {
	st, err := s.exec.Status(ctx)
	if err != nil {
		pr.ErrPrintln("status error:", err)
		return
	}
	pr.Printf("Emby configured: %t, notifier configured: %t\n", st.EmbyConfigured, st.NotifierConfigured)
	pr.Printf("Mirror: %d records (%d soft-deleted)\n", st.RecordCount, st.DeletedCount)
	if st.SyncRunning {
		pr.Println("Sync pass: running")
	}
	if st.LastSyncAt.IsZero() {
		pr.Println("Last sync: <never>")
		return
	}
	at := st.LastSyncAt
	if st.Location != nil {
		at = at.In(st.Location)
	}
	pr.Printf("Last sync: %s (inserted=%d updated=%d deleted=%d)\n",
		at.Format(time.RFC3339),
		st.LastSyncReport.Inserted, st.LastSyncReport.Updated, st.LastSyncReport.Deleted)
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
