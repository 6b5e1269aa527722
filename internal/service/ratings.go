package service

import (
	"math"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/library-lookup/library-back/internal/db"
)

type (
	// RatingEntry is one rating joined with its reviewer's display name.
	RatingEntry struct {
		Rating    int       `json:"rating"`
		Reviewer  string    `json:"reviewer"`
		CreatedAt time.Time `json:"created_at"`
	}

	RatingSummary struct {
		Average float64
		Count   int64
	}

	Ratings struct {
		db     *gorm.DB
		books  *Books
		logger *zap.SugaredLogger
	}
)

func NewRatings(gdb *gorm.DB, books *Books, l *zap.SugaredLogger) *Ratings {
	return &Ratings{
		db:     gdb,
		books:  books,
		logger: l,
	}
}

// Set records a user's rating for a book, replacing any prior rating by the
// same user. The book is registered on first reference.
func (s *Ratings) Set(userID uint64, googleBookID string, value int) (*db.Rating, error) {
	if value < 1 || value > 5 {
		return nil, invalidInput("Rating must be between 1 and 5")
	}

	book, err := s.books.Ensure(googleBookID)
	if err != nil {
		return nil, err
	}

	model := db.Rating{
		UserID: userID,
		BookID: book.ID,
		Rating: value,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rating", "updated_at"}),
	}).Create(&model)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "upsert rating")
	}

	return &model, nil
}

// List returns all ratings for a book, newest first. An unknown book yields
// an empty list.
func (s *Ratings) List(googleBookID string) ([]RatingEntry, error) {
	book, err := s.books.Lookup(googleBookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return []RatingEntry{}, nil
		}
		return nil, err
	}

	sql, args, err := squirrel.
		Select("r.rating", "u.username AS reviewer", "r.created_at").
		From("ratings r").
		Join("users u ON r.user_id = u.id").
		Where(squirrel.Eq{"r.book_id": book.ID}).
		OrderBy("r.created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	entries := make([]RatingEntry, 0)
	res := s.db.Raw(sql, args...).Scan(&entries)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	return entries, nil
}

// Average recomputes the aggregate on demand; nothing is maintained
// incrementally. Zero ratings (or an unknown book) yields {0, 0}.
func (s *Ratings) Average(googleBookID string) (*RatingSummary, error) {
	book, err := s.books.Lookup(googleBookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return &RatingSummary{}, nil
		}
		return nil, err
	}

	sql, args, err := squirrel.
		Select("COALESCE(AVG(rating), 0) AS average", "COUNT(rating) AS count").
		From("ratings").
		Where(squirrel.Eq{"book_id": book.ID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	summary := RatingSummary{}
	res := s.db.Raw(sql, args...).Scan(&summary)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	summary.Average = math.Round(summary.Average*100) / 100
	return &summary, nil
}
