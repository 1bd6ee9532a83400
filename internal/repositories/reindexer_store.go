package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// Используем cproto (RPC) протокол — он быстрее и эффективнее стандартного HTTP.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

const (
	// Имя неймспейса по умолчанию.
	defaultNamespace = "documents"

	// Reindexer не любит долгие тайм-ауты, поэтому ставим разумные ограничения.
	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

var errNoConnection = errors.New("нет доступного соединения с БД")

// HealthStatus хранит текущее состояние подключения к базе.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int // Сколько активных соединений в пуле
}

// documentRecord — строка неймспейса. Документ целиком лежит в Body (JSON),
// индексируются только id и type.
type documentRecord struct {
	ID   string `json:"id" reindex:"id,,pk"`
	Type string `json:"type" reindex:"type"`
	Body string `json:"body"`
}

func toRecord(doc *domain.Document) (*documentRecord, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации документа %s: %w", doc.ID, err)
	}
	return &documentRecord{ID: doc.ID, Type: string(doc.Type), Body: string(body)}, nil
}

func fromRecord(rec *documentRecord) (*domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal([]byte(rec.Body), &doc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа %s: %w", rec.ID, err)
	}
	return &doc, nil
}

// ReindexerStore — хранилище документов поверх Reindexer.
// Управляет пулом соединений, следит за здоровьем базы и выполняет CRUD.
type ReindexerStore struct {
	dsn       string
	namespace string
	logger    *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer   // Главное соединение
	connections []*reindexer.Reindexer // Пул дополнительных соединений
	poolSize    int
	next        atomic.Uint64 // счетчик для round-robin

	// Атомарное хранилище статуса здоровья (*HealthStatus).
	healthStatus atomic.Value

	collectionsInitialized atomic.Bool
	collectionsMu          sync.Mutex
}

// NewReindexerStore создает хранилище и сразу подключается к базе.
func NewReindexerStore(dsn, namespace string, maxConnections int, logger *zap.Logger) (*ReindexerStore, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	store := &ReindexerStore{
		dsn:         dsn,
		namespace:   namespace,
		logger:      logger,
		poolSize:    maxConnections,
		connections: make([]*reindexer.Reindexer, 0, maxConnections),
	}

	// Пока не подключились — считаем себя нездоровыми.
	store.healthStatus.Store(&HealthStatus{
		IsHealthy: false,
		LastCheck: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	return store, nil
}

// Connect устанавливает соединение с повторными попытками.
func (r *ReindexerStore) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connectWithRetry(ctx, defaultMaxRetries)
}

func (r *ReindexerStore) connectWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("повторная попытка подключения",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// WithCreateDBIfMissing() автоматически создаст базу, если её нет.
		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := r.testConnection(ctx, db); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("тест соединения провален",
				zap.Int("попытка", attempt+1),
				zap.Error(err),
			)
			continue
		}

		// Закрываем старые соединения при переподключении.
		r.closeAll()
		r.db = db

		r.connections = make([]*reindexer.Reindexer, 0, r.poolSize)
		for i := 0; i < r.poolSize; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := r.testConnection(ctx, conn); err != nil {
				conn.Close()
				r.logger.Warn("не удалось создать соединение в пуле",
					zap.Int("индекс", i),
					zap.Error(err),
				)
				continue
			}
			r.connections = append(r.connections, conn)
		}

		// Схему придется открыть заново на новых соединениях.
		r.collectionsInitialized.Store(false)
		r.updateHealthStatus(true, nil, len(r.connections)+1)

		r.logger.Info("успешно подключились к Reindexer",
			zap.String("namespace", r.namespace),
			zap.Int("размер_пула", len(r.connections)),
		)

		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)

	return fmt.Errorf("не удалось подключиться после %d попыток: %w", maxRetries, lastErr)
}

// testConnection пингует сервер.
func (r *ReindexerStore) testConnection(ctx context.Context, db *reindexer.Reindexer) error {
	if db == nil {
		return fmt.Errorf("объект соединения nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return db.Ping()
}

// getConnection возвращает соединение из пула по round-robin.
func (r *ReindexerStore) getConnection() *reindexer.Reindexer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		return r.db
	}

	i := r.next.Add(1) % uint64(len(r.connections))
	return r.connections[i]
}

func (r *ReindexerStore) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает последнее известное состояние здоровья.
func (r *ReindexerStore) Health() *HealthStatus {
	status, _ := r.healthStatus.Load().(*HealthStatus)
	if status == nil {
		return &HealthStatus{IsHealthy: false}
	}
	return status
}

func (r *ReindexerStore) markFailure(err error) {
	r.updateHealthStatus(false, err, r.Health().Connections)
}

// EnsureCollections открывает (и при необходимости создает) неймспейс на всех соединениях.
func (r *ReindexerStore) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	// double-check locking
	if r.collectionsInitialized.Load() {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.RLock()
	db := r.db
	pool := append([]*reindexer.Reindexer(nil), r.connections...)
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение с базой не установлено")
	}

	opts := reindexer.DefaultNamespaceOptions()
	if err := db.OpenNamespace(r.namespace, opts, documentRecord{}); err != nil {
		return fmt.Errorf("ошибка открытия неймспейса: %w", err)
	}

	for i, conn := range pool {
		if err := conn.OpenNamespace(r.namespace, opts, documentRecord{}); err != nil {
			r.logger.Warn("ошибка открытия неймспейса для соединения из пула",
				zap.Int("индекс", i),
				zap.Error(err),
			)
		}
	}

	r.collectionsInitialized.Store(true)
	r.logger.Info("коллекции инициализированы", zap.String("namespace", r.namespace))

	return nil
}

// prepare проверяет схему и возвращает соединение, привязанное к ctx:
// тайм-аут запроса действует на сам вызов Reindexer.
func (r *ReindexerStore) prepare(ctx context.Context) (*reindexer.Reindexer, error) {
	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}
	db := r.getConnection()
	if db == nil {
		return nil, errNoConnection
	}
	return db.WithContext(ctx), nil
}

// Get получает документ по ID.
func (r *ReindexerStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := r.query(db.Query(r.namespace).Where("id", reindexer.EQ, id))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrNotFound
	}

	r.logger.Debug("документ найден", zap.String("id", id))
	return docs[0], nil
}

// List возвращает все документы, отсортированные по id.
func (r *ReindexerStore) List(ctx context.Context) ([]*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout*2)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return r.query(db.Query(r.namespace).Sort("id", false))
}

// ListByType возвращает документы указанного типа.
func (r *ReindexerStore) ListByType(ctx context.Context, t domain.DocumentType) ([]*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout*2)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return r.query(db.Query(r.namespace).Where("type", reindexer.EQ, string(t)).Sort("id", false))
}

func (r *ReindexerStore) query(q *reindexer.Query) ([]*domain.Document, error) {
	iter := q.Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		r.logger.Error("ошибка выполнения запроса", zap.Error(err))
		r.markFailure(err)
		return nil, fmt.Errorf("ошибка запроса: %w", err)
	}

	docs := []*domain.Document{}
	for iter.Next() {
		rec, ok := iter.Object().(*documentRecord)
		if !ok {
			r.logger.Error("ошибка приведения типов",
				zap.String("тип", fmt.Sprintf("%T", iter.Object())),
			)
			return nil, fmt.Errorf("внутренняя ошибка десериализации")
		}
		doc, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Add сохраняет новый документ; ErrAlreadyExists, если id занят.
func (r *ReindexerStore) Add(ctx context.Context, doc *domain.Document) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return err
	}
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	// Insert не трогает существующие записи и возвращает 0 для занятого id.
	inserted, err := db.Insert(r.namespace, rec)
	if err != nil {
		r.logger.Error("ошибка создания документа",
			zap.String("id", doc.ID),
			zap.Error(err),
		)
		r.markFailure(err)
		return fmt.Errorf("ошибка при сохранении: %w", err)
	}
	if inserted == 0 {
		return domain.ErrAlreadyExists
	}

	return nil
}

// Update заменяет существующий документ целиком.
func (r *ReindexerStore) Update(ctx context.Context, doc *domain.Document) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return err
	}
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	updated, err := db.Update(r.namespace, rec)
	if err != nil {
		r.logger.Error("ошибка обновления документа",
			zap.String("id", doc.ID),
			zap.Error(err),
		)
		r.markFailure(err)
		return fmt.Errorf("ошибка при обновлении: %w", err)
	}
	if updated == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Delete удаляет документ по ID. Отсутствующий документ — не ошибка.
func (r *ReindexerStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	db, err := r.prepare(ctx)
	if err != nil {
		return err
	}

	if _, err := db.Query(r.namespace).Where("id", reindexer.EQ, id).Delete(); err != nil {
		r.logger.Error("ошибка удаления документа",
			zap.String("id", id),
			zap.Error(err),
		)
		r.markFailure(err)
		return fmt.Errorf("ошибка при удалении: %w", err)
	}

	return nil
}

// CheckConnection проверяет здоровье соединения (для внешних health check'ов).
func (r *ReindexerStore) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение не установлено")
	}

	if err := r.testConnection(ctx, db); err != nil {
		r.markFailure(err)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}

	r.updateHealthStatus(true, nil, r.Health().Connections)
	return nil
}

// closeAll закрывает соединения; вызывается под r.mu.
func (r *ReindexerStore) closeAll() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	for _, conn := range r.connections {
		if conn != nil {
			conn.Close()
		}
	}
	r.connections = r.connections[:0]
}

// Close закрывает все соединения с базой данных.
func (r *ReindexerStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeAll()
	r.updateHealthStatus(false, fmt.Errorf("соединение закрыто"), 0)

	return nil
}

// Проверка интерфейсов (compile-time check).
var (
	_ domain.DocumentStore = (*ReindexerStore)(nil)
	_ domain.HealthChecker = (*ReindexerStore)(nil)
)
