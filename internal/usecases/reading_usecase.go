package usecases

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/reader"
)

// ErrLoadAborted возвращается, если сессию закрыли, пока документ загружался.
var ErrLoadAborted = errors.New("загрузка документа прервана")

// DocumentSource — то, что нужно сессиям чтения от слоя документов.
type DocumentSource interface {
	FindByID(ctx context.Context, id string) (*domain.Document, error)
	Save(ctx context.Context, doc *domain.Document) error
}

// ReadingUsecase управляет сессиями чтения: открывает документ, ведет позицию
// и закладки, сохраняет изменения обратно в хранилище целиком (last-write-wins).
type ReadingUsecase struct {
	docs     DocumentSource
	renderer domain.PreviewRenderer
	sessions SessionCache
	logger   *zap.Logger

	newTracker func() *reader.Tracker
	opening    singleflight.Group
}

// NewReadingUsecase создает usecase; newTracker задает цвета и троттлинг каждой новой сессии.
func NewReadingUsecase(
	docs DocumentSource,
	renderer domain.PreviewRenderer,
	sessions SessionCache,
	newTracker func() *reader.Tracker,
	logger *zap.Logger,
) *ReadingUsecase {
	if newTracker == nil {
		newTracker = func() *reader.Tracker { return reader.NewTracker(nil) }
	}
	return &ReadingUsecase{
		docs:       docs,
		renderer:   renderer,
		sessions:   sessions,
		logger:     logger,
		newTracker: newTracker,
	}
}

// Open возвращает загруженную сессию документа, при необходимости загружая его.
// Одновременные открытия одного документа разделяют одну загрузку.
func (u *ReadingUsecase) Open(ctx context.Context, id string) (*reader.Session, error) {
	session, _, err := u.sessions.GetOrCreate(ctx, sessionKey(id), func() *reader.Session {
		return reader.NewSession(u.newTracker())
	})
	if err != nil {
		return nil, err
	}
	if session.Loaded() {
		return session, nil
	}

	ch := u.opening.DoChan(id, func() (interface{}, error) {
		if session.Loaded() {
			return nil, nil
		}
		lctx, cancel := detached(ctx, hydrateTimeout)
		defer cancel()
		return nil, u.load(lctx, id, session)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		err = res.Err
	}
	if err != nil {
		// Не оставляем в кэше сессию без документа.
		if !session.Loaded() {
			_ = u.sessions.Delete(ctx, sessionKey(id))
		}
		return nil, err
	}
	if !session.Loaded() {
		return nil, ErrLoadAborted
	}
	return session, nil
}

func (u *ReadingUsecase) load(ctx context.Context, id string, session *reader.Session) error {
	token := session.BeginLoad()

	doc, err := u.docs.FindByID(ctx, id)
	if err != nil {
		return err
	}

	rendered, err := u.renderer.Render(doc.PreviewMarkup)
	if err != nil {
		u.logger.Error("не удалось отрисовать превью",
			zap.String("id", id),
			zap.Error(err),
		)
		return fmt.Errorf("отрисовка превью %s: %w", id, err)
	}

	if !session.CompleteLoad(token, doc, rendered) {
		u.logger.Info("результат загрузки отброшен", zap.String("id", id))
		return ErrLoadAborted
	}

	u.logger.Debug("сессия открыта",
		zap.String("id", id),
		zap.Int("blocks", len(rendered.Blocks)),
		zap.Int("headings", len(rendered.Headings)),
	)
	return nil
}

// View возвращает снимок сессии для экрана чтения.
func (u *ReadingUsecase) View(ctx context.Context, id string, order reader.SortOrder) (*reader.View, error) {
	session, err := u.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.settle(ctx, session); err != nil {
		return nil, err
	}
	return session.Snapshot(order)
}

// TOC строит оглавление для текущей позиции.
func (u *ReadingUsecase) TOC(ctx context.Context, id string) ([]*domain.TocNode, error) {
	session, err := u.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.settle(ctx, session); err != nil {
		return nil, err
	}
	return session.TOC(), nil
}

// Scroll обрабатывает событие прокрутки. Смена текущего блока сохраняется в документ.
// ok == false означает, что событие отброшено троттлингом.
func (u *ReadingUsecase) Scroll(ctx context.Context, id string, g domain.Geometry) (pos reader.Position, ok bool, err error) {
	session, err := u.Open(ctx, id)
	if err != nil {
		return reader.Position{}, false, err
	}

	pos, changed, ok := session.Scroll(g)
	if changed {
		if err := u.persist(ctx, session); err != nil {
			return pos, ok, err
		}
	}
	return pos, ok, nil
}

// Bookmarks возвращает закладки в заданном порядке.
func (u *ReadingUsecase) Bookmarks(ctx context.Context, id string, order reader.SortOrder) ([]reader.ResolvedBookmark, error) {
	session, err := u.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Bookmarks(order), nil
}

// AddBookmark ставит закладку на текущий блок и сохраняет документ.
func (u *ReadingUsecase) AddBookmark(ctx context.Context, id string) (domain.Bookmark, error) {
	session, err := u.Open(ctx, id)
	if err != nil {
		return domain.Bookmark{}, err
	}

	doc, bookmark, err := session.AddBookmark()
	if err != nil {
		return domain.Bookmark{}, err
	}
	if err := u.docs.Save(ctx, doc); err != nil {
		return domain.Bookmark{}, err
	}

	u.logger.Info("закладка добавлена",
		zap.String("id", id),
		zap.String("bookmark_id", bookmark.ID),
		zap.Int("element_index", bookmark.ElementIndex),
	)
	return bookmark, nil
}

// RemoveBookmark удаляет закладку; неизвестный id — не ошибка.
func (u *ReadingUsecase) RemoveBookmark(ctx context.Context, id, bookmarkID string) error {
	session, err := u.Open(ctx, id)
	if err != nil {
		return err
	}

	doc, err := session.RemoveBookmark(bookmarkID)
	if err != nil {
		return err
	}
	return u.docs.Save(ctx, doc)
}

// Close закрывает сессию документа; поздние загрузки будут проигнорированы.
func (u *ReadingUsecase) Close(ctx context.Context, id string) error {
	return u.sessions.Delete(ctx, sessionKey(id))
}

// settle применяет последнее отброшенное троттлингом событие и сохраняет
// позицию, если текущий блок сменился.
func (u *ReadingUsecase) settle(ctx context.Context, session *reader.Session) error {
	if _, changed := session.Settle(); changed {
		return u.persist(ctx, session)
	}
	return nil
}

func (u *ReadingUsecase) persist(ctx context.Context, session *reader.Session) error {
	doc := session.Document()
	if doc == nil {
		return reader.ErrNotLoaded
	}
	if err := u.docs.Save(ctx, doc); err != nil {
		u.logger.Warn("позиция чтения не сохранена",
			zap.String("id", doc.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
