package service

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/library-lookup/library-back/internal/catalog"
	"github.com/library-lookup/library-back/internal/db"
)

const placeholderTitle = "Unknown Title"

type (
	BookMeta struct {
		Title       string
		Authors     []string
		Description string
		ImageURL    string
		ISBN        string
	}

	// FeaturedBook is a featured listing row with its aggregated tag names.
	FeaturedBook struct {
		ID           uint64         `json:"id"`
		GoogleBookID string         `json:"google_book_id"`
		Title        string         `json:"title"`
		Authors      pq.StringArray `gorm:"type:text[]" json:"authors"`
		Description  string         `json:"description,omitempty"`
		ImageURL     string         `json:"image_url,omitempty"`
		Featured     bool           `json:"featured"`
		Tags         pq.StringArray `gorm:"type:text[]" json:"tags"`
	}

	Books struct {
		db      *gorm.DB
		catalog *catalog.Client
		logger  *zap.SugaredLogger
	}
)

func NewBooks(gdb *gorm.DB, cl *catalog.Client, l *zap.SugaredLogger) *Books {
	return &Books{
		db:      gdb,
		catalog: cl,
		logger:  l,
	}
}

// Resolve maps a catalog identifier to the local book row, creating it on
// first reference and refreshing the mutable metadata otherwise. The whole
// operation is a single ON CONFLICT upsert so two concurrent first references
// cannot produce two rows.
func (s *Books) Resolve(googleBookID string, meta BookMeta) (*db.Book, error) {
	if googleBookID == "" {
		return nil, invalidInput("Book ID is required")
	}

	model := db.Book{
		GoogleBookID: googleBookID,
		Title:        meta.Title,
		Authors:      pq.StringArray(meta.Authors),
		Description:  meta.Description,
		ImageURL:     meta.ImageURL,
		ISBN:         meta.ISBN,
	}
	if model.Title == "" {
		model.Title = placeholderTitle
	}

	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "google_book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "authors", "description", "image_url", "updated_at"}),
	}).Create(&model)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "upsert book")
	}

	return &model, nil
}

// Ensure registers a placeholder row for an unseen book without touching the
// metadata of an existing one. Annotation writes go through here.
func (s *Books) Ensure(googleBookID string) (*db.Book, error) {
	if googleBookID == "" {
		return nil, invalidInput("Book ID is required")
	}

	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "google_book_id"}},
		DoNothing: true,
	}).Create(&db.Book{
		GoogleBookID: googleBookID,
		Title:        placeholderTitle,
	})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "ensure book")
	}

	return s.Lookup(googleBookID)
}

func (s *Books) Lookup(googleBookID string) (*db.Book, error) {
	book := db.Book{}
	res := s.db.Where("google_book_id = ?", googleBookID).First(&book)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, errors.Wrap(res.Error, "find book")
	}
	return &book, nil
}

// Search proxies the catalog and caches every returned volume so later
// annotations resolve against known metadata. Cached rows are never
// overwritten from search results.
func (s *Books) Search(ctx context.Context, query string) ([]catalog.Volume, error) {
	volumes, err := s.catalog.Search(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "catalog search")
	}

	for _, v := range volumes {
		res := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "google_book_id"}},
			DoNothing: true,
		}).Create(&db.Book{
			GoogleBookID: v.GoogleBookID,
			Title:        v.Title,
			Authors:      pq.StringArray(v.Authors),
			Description:  v.Description,
			ImageURL:     v.ImageURL,
			ISBN:         v.ISBN,
		})
		if res.Error != nil {
			s.logger.Warnw("cache search result", "google_book_id", v.GoogleBookID, "error", res.Error)
		}
	}

	return volumes, nil
}

// Featured lists featured books with their aggregated tag names, optionally
// restricted to books carrying the given tag.
func (s *Books) Featured(tagFilter string) ([]FeaturedBook, error) {
	q := squirrel.
		Select(
			"b.id", "b.google_book_id", "b.title", "b.authors", "b.description",
			"b.image_url", "b.featured",
			"ARRAY_AGG(t.name) FILTER (WHERE t.name IS NOT NULL) AS tags",
		).
		From("books b").
		LeftJoin("book_tags bt ON b.id = bt.book_id").
		LeftJoin("tags t ON bt.tag_id = t.id").
		Where(squirrel.Eq{"b.featured": true}).
		GroupBy("b.id").
		OrderBy("b.id")
	if tagFilter != "" {
		q = q.Having("bool_or(t.name = ?)", tagFilter)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	books := make([]FeaturedBook, 0)
	res := s.db.Raw(sql, args...).Scan(&books)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	return books, nil
}

func (s *Books) MarkFeatured(googleBookID string) (*db.Book, error) {
	book, err := s.Lookup(googleBookID)
	if err != nil {
		return nil, err
	}

	res := s.db.Model(book).Update("featured", true)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "mark featured")
	}

	return book, nil
}

// AddTag attaches a tag to a book, creating the tag on first use. Attaching
// an already-attached tag is a no-op.
func (s *Books) AddTag(googleBookID, tagName string) error {
	tagName = strings.TrimSpace(tagName)
	if tagName == "" {
		return invalidInput("Tag name required")
	}

	book, err := s.Lookup(googleBookID)
	if err != nil {
		return err
	}

	tag := db.Tag{Name: tagName}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&tag)
	if res.Error != nil {
		return errors.Wrap(res.Error, "upsert tag")
	}
	if tag.ID == 0 {
		if res := s.db.Where("name = ?", tagName).First(&tag); res.Error != nil {
			return errors.Wrap(res.Error, "find tag")
		}
	}

	res = s.db.Exec(
		"INSERT INTO book_tags (book_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		book.ID, tag.ID,
	)
	if res.Error != nil {
		return errors.Wrap(res.Error, "link tag")
	}

	return nil
}

func (s *Books) RemoveTag(googleBookID, tagName string) error {
	book, err := s.Lookup(googleBookID)
	if err != nil {
		return err
	}

	tag := db.Tag{}
	res := s.db.Where("name = ?", tagName).First(&tag)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrTagNotFound
		}
		return errors.Wrap(res.Error, "find tag")
	}

	res = s.db.Exec("DELETE FROM book_tags WHERE book_id = ? AND tag_id = ?", book.ID, tag.ID)
	if res.Error != nil {
		return errors.Wrap(res.Error, "unlink tag")
	}
	if res.RowsAffected == 0 {
		return ErrTagLinkNotFound
	}

	return nil
}
