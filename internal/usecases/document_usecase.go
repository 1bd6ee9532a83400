package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/reader"
)

// ListOrder задает порядок списка документов.
type ListOrder string

const (
	OrderByID    ListOrder = "id"
	OrderByTitle ListOrder = "title"
)

// ParseListOrder разбирает порядок из query-параметра; неизвестное значение — по id.
func ParseListOrder(s string) ListOrder {
	if ListOrder(strings.ToLower(strings.TrimSpace(s))) == OrderByTitle {
		return OrderByTitle
	}
	return OrderByID
}

// hydrateTimeout ограничивает общую гидратацию, которая не зависит от контекста
// отдельного запроса.
const hydrateTimeout = 2 * time.Minute

// SessionCache хранит живые сессии чтения по ключу session:{id}.
type SessionCache interface {
	Get(ctx context.Context, key string) (*reader.Session, bool)
	GetOrCreate(ctx context.Context, key string, create func() *reader.Session) (*reader.Session, bool, error)
	Delete(ctx context.Context, key string) error
}

func sessionKey(id string) string {
	return "session:" + id
}

// DocumentUsecase — слой слияния локального хранилища и удаленного сервиса.
// Главные задачи:
// 1. Локальная копия всегда в приоритете (local-first).
// 2. При промахе — гидратация из удаленного сервиса и сохранение.
// 3. Ограничение числа одновременных удаленных вызовов.
type DocumentUsecase struct {
	store   domain.DocumentStore
	gateway domain.RemoteGateway
	logger  *zap.Logger

	// Сессии, которые надо сбросить при замене или удалении документа.
	sessions SessionCache

	rateLimiter *RateLimiter       // Семафор на удаленные вызовы
	hydrating   singleflight.Group // Один удаленный запрос на id, сколько бы читателей ни ждало
}

// RateLimiter — простой ограничитель нагрузки на семафоре.
// Не дает запустить больше N операций одновременно.
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter создает ограничитель с буфером на maxConcurrent операций.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire ждет свободного слота или отмены контекста.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release освобождает слот.
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
		// Защита от паники при попытке освободить пустой семафор
	}
}

// InFlight возвращает число занятых слотов.
func (rl *RateLimiter) InFlight() int {
	return len(rl.semaphore)
}

// NewDocumentUsecase создает usecase. sessions может быть nil (CLI без сессий).
func NewDocumentUsecase(
	store domain.DocumentStore,
	gateway domain.RemoteGateway,
	sessions SessionCache,
	logger *zap.Logger,
	maxRemoteCalls int,
) *DocumentUsecase {
	return &DocumentUsecase{
		store:       store,
		gateway:     gateway,
		sessions:    sessions,
		logger:      logger,
		rateLimiter: NewRateLimiter(maxRemoteCalls),
	}
}

// FindByID возвращает документ:
// 1. Ищем в локальном хранилище. Нашли -> вернули, удаленный сервис не трогаем.
// 2. Не нашли -> дескриптор из удаленного сервиса -> текст превью -> сохраняем -> вернули.
func (u *DocumentUsecase) FindByID(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "must not be empty"}
	}

	// 1. Локальный поиск (быстрый путь)
	doc, err := u.store.Get(ctx, id)
	if err == nil {
		u.logger.Debug("документ найден локально", zap.String("id", id))
		doc.Normalize()
		return doc, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		u.logger.Error("не удалось получить документ из хранилища",
			zap.String("id", id),
			zap.Error(err),
		)
		return nil, err
	}

	// 2. Гидратация (медленный путь). Общая работа не отменяется вместе с тем,
	// кто ее начал: остальные ждущие получают результат. Каждый ждет на своем ctx.
	ch := u.hydrating.DoChan(id, func() (interface{}, error) {
		hctx, cancel := detached(ctx, hydrateTimeout)
		defer cancel()
		return u.hydrate(hctx, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			u.logger.Debug("гидратация разделена между запросами", zap.String("id", id))
		}
		return res.Val.(*domain.Document).Clone(), nil
	}
}

// detached возвращает контекст со значениями parent, но без его отмены.
func detached(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

func (u *DocumentUsecase) hydrate(ctx context.Context, id string) (*domain.Document, error) {
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("превышен лимит удаленных запросов: %w", err)
	}
	defer u.rateLimiter.Release()

	remote, err := u.gateway.FindByID(ctx, id)
	if err != nil {
		u.logger.Warn("документ не получен из удаленного сервиса",
			zap.String("id", id),
			zap.Error(err),
		)
		return nil, err
	}

	markup, err := u.gateway.FetchPreview(ctx, remote.PreviewFileURL)
	if err != nil {
		u.logger.Warn("не удалось скачать превью",
			zap.String("id", id),
			zap.String("url", remote.PreviewFileURL),
			zap.Error(err),
		)
		return nil, err
	}

	doc := &domain.Document{
		ID:              id,
		Type:            remote.Type,
		OriginalFileURL: remote.OriginalFileURL,
		PreviewFileURL:  remote.PreviewFileURL,
		PreviewMarkup:   markup,
		Metadata:        remote.Metadata,
		Bookmarks:       []domain.Bookmark{},
	}
	doc.Normalize()

	if err := u.store.Add(ctx, doc); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Другой процесс успел раньше, его копия главнее.
			existing, getErr := u.store.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			existing.Normalize()
			return existing, nil
		}
		u.logger.Error("ошибка сохранения документа",
			zap.String("id", id),
			zap.Error(err),
		)
		return nil, err
	}

	u.logger.Info("документ закэширован",
		zap.String("id", id),
		zap.String("type", string(doc.Type)),
		zap.Int("preview_bytes", len(markup)),
	)
	return doc, nil
}

// FindAll возвращает все локальные документы в заданном порядке.
func (u *DocumentUsecase) FindAll(ctx context.Context, order ListOrder) ([]*domain.Document, error) {
	docs, err := u.store.List(ctx)
	if err != nil {
		u.logger.Error("ошибка получения списка", zap.Error(err))
		return nil, err
	}

	for _, doc := range docs {
		doc.Normalize()
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if order == OrderByTitle {
			ti, tj := strings.ToLower(docs[i].Title()), strings.ToLower(docs[j].Title())
			if ti != tj {
				return ti < tj
			}
		}
		return docs[i].ID < docs[j].ID
	})

	return docs, nil
}

// FindByType возвращает локальные документы одного типа.
func (u *DocumentUsecase) FindByType(ctx context.Context, t domain.DocumentType) ([]*domain.Document, error) {
	if !t.Valid() {
		return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown document type %q", t)}
	}
	docs, err := u.store.ListByType(ctx, t)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.Normalize()
	}
	return docs, nil
}

// Update заменяет документ целиком и сбрасывает открытую сессию чтения.
func (u *DocumentUsecase) Update(ctx context.Context, id string, doc *domain.Document) error {
	if doc == nil {
		return &domain.ValidationError{Field: "document", Message: "is required"}
	}
	doc.ID = id
	if !doc.Type.Valid() {
		return &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown document type %q", doc.Type)}
	}
	doc.Normalize()

	if err := u.Save(ctx, doc); err != nil {
		return err
	}

	// Сессия держит старую копию; без сброса она перезапишет замену.
	u.invalidateSession(ctx, id)

	u.logger.Info("документ обновлен", zap.String("id", id))
	return nil
}

// Save записывает документ без сброса сессий. Используется самими сессиями.
func (u *DocumentUsecase) Save(ctx context.Context, doc *domain.Document) error {
	if err := u.store.Update(ctx, doc); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			u.logger.Error("ошибка обновления в хранилище",
				zap.String("id", doc.ID),
				zap.Error(err),
			)
		}
		return err
	}
	return nil
}

// Remove удаляет документ вместе с закладками. Повторное удаление — не ошибка.
func (u *DocumentUsecase) Remove(ctx context.Context, id string) error {
	if err := u.store.Delete(ctx, id); err != nil {
		u.logger.Error("ошибка удаления из хранилища",
			zap.String("id", id),
			zap.Error(err),
		)
		return err
	}

	u.invalidateSession(ctx, id)

	u.logger.Info("документ удален", zap.String("id", id))
	return nil
}

// Upload отправляет файл в удаленный сервис и сразу кэширует результат локально.
func (u *DocumentUsecase) Upload(ctx context.Context, filename string, file io.Reader) (*domain.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, &domain.ValidationError{Field: "file", Message: "filename is required"}
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("превышен лимит удаленных запросов: %w", err)
	}
	remote, err := u.gateway.Upload(ctx, filename, file)
	u.rateLimiter.Release()
	if err != nil {
		u.logger.Error("ошибка загрузки файла",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return nil, err
	}

	return u.FindByID(ctx, remote.ID)
}

// invalidateSession закрывает и убирает открытую сессию документа.
func (u *DocumentUsecase) invalidateSession(ctx context.Context, id string) {
	if u.sessions == nil {
		return
	}
	if err := u.sessions.Delete(ctx, sessionKey(id)); err != nil {
		u.logger.Warn("не удалось сбросить сессию",
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
