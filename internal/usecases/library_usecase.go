package usecases

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// outlineDepth — глубина оглавления в карточке документа.
const outlineDepth = 2

// Summary — карточка документа на главной странице.
type Summary struct {
	ID                  string              `json:"id"`
	Type                domain.DocumentType `json:"type"`
	Title               string              `json:"title"`
	Subtitle            string              `json:"subtitle,omitempty"`
	Authors             []string            `json:"authors"`
	Date                string              `json:"date,omitempty"`
	ReadURL             string              `json:"readUrl"`
	Outline             []domain.Heading    `json:"outline"`
	Blocks              int                 `json:"blocks"`
	Bookmarks           int                 `json:"bookmarks"`
	CurrentElementIndex *int                `json:"currentElementIndex,omitempty"`
	RenderError         string              `json:"renderError,omitempty"`
}

// LibraryUsecase собирает главную страницу: список документов с оглавлениями.
type LibraryUsecase struct {
	docs            *DocumentUsecase
	renderer        domain.BatchRenderer
	annotationProxy string
	logger          *zap.Logger
}

// NewLibraryUsecase создает usecase. annotationProxy — префикс ссылки для PDF.
func NewLibraryUsecase(docs *DocumentUsecase, renderer domain.BatchRenderer, annotationProxy string, logger *zap.Logger) *LibraryUsecase {
	return &LibraryUsecase{
		docs:            docs,
		renderer:        renderer,
		annotationProxy: annotationProxy,
		logger:          logger,
	}
}

// ReadURL возвращает ссылку для чтения: ebook открывается у нас,
// PDF — через прокси аннотаций поверх файла превью.
func ReadURL(doc *domain.Document, annotationProxy string) string {
	if doc.Type == domain.DocumentTypePdf {
		if !strings.HasSuffix(annotationProxy, "/") {
			annotationProxy += "/"
		}
		return annotationProxy + doc.PreviewFileURL
	}
	return "/book/" + doc.ID
}

// Summaries отрисовывает все документы пачкой (порядок сохраняется) и строит карточки.
func (u *LibraryUsecase) Summaries(ctx context.Context, order ListOrder) ([]Summary, error) {
	docs, err := u.docs.FindAll(ctx, order)
	if err != nil {
		return nil, err
	}

	results, err := u.renderer.RenderDocuments(ctx, docs)
	if err != nil {
		u.logger.Error("ошибка пакетной отрисовки", zap.Int("количество", len(docs)), zap.Error(err))
		return nil, err
	}

	summaries := make([]Summary, len(results))
	failed := 0
	for i, result := range results {
		doc := result.Document
		s := Summary{
			ID:                  doc.ID,
			Type:                doc.Type,
			Title:               doc.Title(),
			Authors:             []string{},
			ReadURL:             ReadURL(doc, u.annotationProxy),
			Outline:             []domain.Heading{},
			Bookmarks:           len(doc.Bookmarks),
			CurrentElementIndex: doc.CurrentElementIndex,
		}
		if doc.Metadata != nil {
			s.Subtitle = doc.Metadata.Subtitle
			s.Date = doc.Metadata.Date
			if doc.Metadata.Authors != nil {
				s.Authors = doc.Metadata.Authors
			}
		}

		if result.Error != nil {
			failed++
			s.RenderError = result.Error.Error()
		} else if result.Rendered != nil {
			s.Blocks = len(result.Rendered.Blocks)
			for _, h := range result.Rendered.Headings {
				if h.Level <= outlineDepth {
					s.Outline = append(s.Outline, h)
				}
			}
		}
		summaries[i] = s
	}

	u.logger.Debug("главная страница собрана",
		zap.Int("всего", len(summaries)),
		zap.Int("с_ошибками", failed),
	)
	return summaries, nil
}
