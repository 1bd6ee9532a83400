package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/cache"
	"github.com/garlicbreadcleric/increadable/internal/config"
	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/gateway"
	"github.com/garlicbreadcleric/increadable/internal/handlers"
	"github.com/garlicbreadcleric/increadable/internal/middleware"
	"github.com/garlicbreadcleric/increadable/internal/processor"
	"github.com/garlicbreadcleric/increadable/internal/reader"
	"github.com/garlicbreadcleric/increadable/internal/render"
	"github.com/garlicbreadcleric/increadable/internal/repositories"
	"github.com/garlicbreadcleric/increadable/internal/usecases"
	"github.com/garlicbreadcleric/increadable/pkg/logger"
)

const (
	// Хранилище может подниматься медленнее приложения.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	// Время на аккуратное завершение работы сервера (доделать текущие запросы).
	shutdownTimeout = 30 * time.Second

	requestTimeout   = 30 * time.Second
	renderQueueSize  = 100
	healthLogPeriod  = 30 * time.Second
	rateLimitWindow  = time.Minute
	defaultConfigEnv = "APP_CONFIG_PATH"
)

// documentStore — локальное хранилище вместе с проверками здоровья.
type documentStore interface {
	domain.DocumentStore
	domain.HealthChecker
	Close() error
}

// App держит вместе все зависимости и управляет жизненным циклом (старт/стоп).
type App struct {
	config    *config.Config
	logger    *zap.Logger
	store     documentStore
	sessions  *cache.ShardedCache[*reader.Session]
	processor *processor.OrderedProcessor
	documents *usecases.DocumentUsecase
	reading   *usecases.ReadingUsecase
	library   *usecases.LibraryUsecase
	server    *http.Server

	initOnce sync.Once
	initErr  error

	// Фоновые задачи отменяются разом при выключении.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewApp создает заготовку приложения; настройка — в Initialize().
func NewApp() *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize настраивает все компоненты, повторный вызов возвращает прежний результат.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize собирает приложение: конфиг, логгер, хранилище, кэш сессий,
// отрисовка, бизнес-логика, HTTP.
func (a *App) doInitialize() error {
	// 1. Конфиг. Если файла нет — работаем на значениях по умолчанию и ENV.
	configPath := os.Getenv(defaultConfigEnv)
	if configPath == "" {
		configPath = "config.yaml"
	}
	configErr := config.Load(configPath)
	if configErr != nil {
		if err := config.Load(""); err != nil {
			return fmt.Errorf("критическая ошибка конфигурации: %w", err)
		}
	}
	a.config = config.Get()

	// 2. Логгер по настройкам из конфига.
	if err := logger.Init(logger.Options{
		Level:       a.config.Log.Level,
		Development: a.config.Log.Development,
	}); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.logger = logger.Get()

	if configErr != nil {
		a.logger.Warn("не удалось загрузить конфиг-файл, используем значения по умолчанию и ENV",
			zap.String("path", configPath),
			zap.Error(configErr),
		)
	}
	a.logger.Info("конфигурация загружена",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.String("store_driver", a.config.Store.Driver),
		zap.String("gateway", a.config.Gateway.BaseURL),
	)

	// 3. Локальное хранилище документов.
	if err := a.initializeStore(); err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	// 4. Клиент удаленного сервиса документов.
	client, err := gateway.NewClient(gateway.Options{
		BaseURL:         a.config.Gateway.BaseURL,
		Timeout:         a.config.Gateway.Timeout,
		MaxPreviewBytes: a.config.Gateway.MaxPreviewBytes,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("ошибка настройки клиента сервиса документов: %w", err)
	}

	// 5. Кэш сессий чтения. Вытесненная сессия закрывается,
	// чтобы поздние загрузки не писали в нее.
	a.sessions = cache.NewShardedCache[*reader.Session](a.config.Cache.Shards, a.config.Cache.TTL)
	a.sessions.OnEvict(func(key string, s *reader.Session) {
		s.Close()
		a.logger.Debug("сессия чтения закрыта", zap.String("key", key))
	})
	a.sessions.StartCleanupWorker()

	// 6. Отрисовка превью: одиночная для экрана чтения и пакетная для главной.
	renderer := render.NewRenderer()
	a.processor = processor.NewPreviewProcessor(
		renderer,
		a.config.Concurrency.RenderWorkers,
		renderQueueSize,
		a.logger,
	)
	a.processor.Start()

	gradient, err := reader.NewGradient(a.config.Reader.StartColor, a.config.Reader.EndColor)
	if err != nil {
		return fmt.Errorf("ошибка в цветах прогресса: %w", err)
	}
	throttle := a.config.Reader.ScrollThrottle
	newTracker := func() *reader.Tracker {
		t := reader.NewTracker(gradient)
		t.MinInterval = throttle
		return t
	}

	// 7. Бизнес-логика.
	a.documents = usecases.NewDocumentUsecase(
		a.store,
		client,
		a.sessions,
		a.logger,
		a.config.Concurrency.GatewayMaxInflight,
	)
	a.reading = usecases.NewReadingUsecase(a.documents, renderer, a.sessions, newTracker, a.logger)
	a.library = usecases.NewLibraryUsecase(a.documents, a.processor, a.config.Gateway.AnnotationProxy, a.logger)

	// 8. HTTP сервер.
	a.initializeServer()

	a.logger.Info("приложение готово к работе")
	return nil
}

// openStore создает хранилище выбранного драйвера.
func (a *App) openStore() (documentStore, error) {
	switch a.config.Store.Driver {
	case config.DriverReindexer:
		return repositories.NewReindexerStore(
			a.config.Store.Reindexer.DSN,
			a.config.Store.Reindexer.Namespace,
			a.config.Concurrency.DBMaxConnections,
			a.logger,
		)
	case config.DriverSQLite:
		return repositories.NewSQLiteStore(a.config.Store.SQLite.Path, a.logger)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q", a.config.Store.Driver)
	}
}

// initializeStore подключается к хранилищу с повторными попытками,
// проверяет связь и создает коллекции.
func (a *App) initializeStore() error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная попытка подключения к хранилищу",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", healthCheckRetryDelay),
			)
			time.Sleep(healthCheckRetryDelay)
		}

		store, openErr := a.openStore()
		if openErr != nil {
			err = openErr
			a.logger.Warn("не удалось открыть хранилище",
				zap.Int("попытка", attempt+1),
				zap.Error(openErr),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		checkErr := store.CheckConnection(ctx)
		cancel()
		if checkErr != nil {
			store.Close()
			err = checkErr
			a.logger.Warn("нет связи с хранилищем",
				zap.Int("попытка", attempt+1),
				zap.Error(checkErr),
			)
			continue
		}

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		ensureErr := store.EnsureCollections(ctx)
		cancel()
		if ensureErr != nil {
			store.Close()
			err = ensureErr
			a.logger.Warn("проблема с коллекциями",
				zap.Int("попытка", attempt+1),
				zap.Error(ensureErr),
			)
			continue
		}

		a.store = store
		a.logger.Info("хранилище успешно инициализировано",
			zap.String("driver", a.config.Store.Driver),
			zap.Int("попыток_затрачено", attempt+1),
		)
		return nil
	}

	return fmt.Errorf("не удалось подключиться к хранилищу после %d попыток: %w", healthCheckRetries, err)
}

// initializeServer настраивает HTTP-роутинг и middleware.
func (a *App) initializeServer() {
	router := handlers.NewRouter(handlers.RouterConfig{
		Documents:   handlers.NewDocumentHandler(a.documents, a.config.Gateway.AnnotationProxy, a.logger),
		Reader:      handlers.NewReaderHandler(a.library, a.reading, a.logger),
		Health:      handlers.NewHealthHandler(a.store, a.config.Store.Driver),
		RateLimiter: middleware.NewRateLimiter(a.config.Concurrency.HTTPMaxRequests, rateLimitWindow),
		Timeout:     requestTimeout,
		Logger:      a.logger,
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartBackgroundJobs запускает фоновые процессы.
func (a *App) StartBackgroundJobs() {
	a.wg.Add(1)
	go a.periodicHealthCheck()
}

// periodicHealthCheck пишет в лог состояние хранилища и кэша сессий.
func (a *App) periodicHealthCheck() {
	defer a.wg.Done()

	ticker := time.NewTicker(healthLogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("фоновая проверка здоровья остановлена")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			if err := a.store.CheckConnection(ctx); err != nil {
				a.logger.Warn("фоновая проверка: проблема с хранилищем", zap.Error(err))
			} else {
				stats := a.sessions.GetStats()
				fields := []zap.Field{
					zap.Int("сессий", stats.TotalItems),
				}
				if rs, ok := a.store.(*repositories.ReindexerStore); ok {
					fields = append(fields, zap.Int("соединений", rs.Health().Connections))
				}
				a.logger.Debug("фоновая проверка: полёт нормальный", fields...)
			}
			cancel()
		}
	}
}

// Start запускает сервер в отдельной горутине.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.StartBackgroundJobs()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера",
			zap.String("адрес", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("сервер упал с ошибкой", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown аккуратно останавливает приложение, дожидаясь текущих запросов.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("начинаем остановку приложения...")

		// 1. Сигнал всем фоновым задачам остановиться
		a.cancel()

		// 2. Перестаем принимать HTTP запросы
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("ошибка при остановке сервера", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		// 3. Останавливаем пакетную отрисовку
		if a.processor != nil {
			a.processor.Stop()
		}

		// 4. Закрываем сессии чтения
		if a.sessions != nil {
			a.sessions.StopCleanupWorker()
			a.sessions.Clear()
		}

		// 5. Закрываем хранилище
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.logger.Error("ошибка при закрытии хранилища", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		// 6. Ждем фоновые горутины
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info("все фоновые процессы завершены")
		case <-time.After(shutdownTimeout):
			a.logger.Warn("таймаут ожидания завершения процессов (принудительный выход)")
		}

		a.logger.Info("приложение остановлено успешно")
		_ = logger.Sync()
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка запуска: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка при остановке: %v\n", err)
		os.Exit(1)
	}
}
