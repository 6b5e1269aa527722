package service

import (
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/library-lookup/library-back/internal/db"
)

type (
	// CommentEntry is one comment joined with its author's display name.
	CommentEntry struct {
		CommentID uint64    `json:"comment_id"`
		Body      string    `json:"comment"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		IsEdited  bool      `json:"is_edited"`
		Username  string    `json:"username"`
	}

	// UserCommentEntry is one comment joined with the book it annotates,
	// for the per-user (or admin system-wide) view.
	UserCommentEntry struct {
		CommentID    uint64    `json:"comment_id"`
		Body         string    `json:"comment"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
		IsEdited     bool      `json:"is_edited"`
		Username     string    `json:"username"`
		BookTitle    string    `json:"book_title"`
		GoogleBookID string    `json:"google_book_id"`
	}

	Comments struct {
		db     *gorm.DB
		books  *Books
		logger *zap.SugaredLogger
	}
)

func NewComments(gdb *gorm.DB, books *Books, l *zap.SugaredLogger) *Comments {
	return &Comments{
		db:     gdb,
		books:  books,
		logger: l,
	}
}

// Add appends a comment to a book's thread. The book is registered on first
// reference, same as ratings.
func (s *Comments) Add(userID uint64, googleBookID, body string) (*db.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalidInput("Book ID and comment required")
	}

	book, err := s.books.Ensure(googleBookID)
	if err != nil {
		return nil, err
	}

	model := db.Comment{
		BookID: book.ID,
		UserID: userID,
		Body:   body,
	}
	if res := s.db.Create(&model); res.Error != nil {
		return nil, errors.Wrap(res.Error, "create comment")
	}

	return &model, nil
}

// ListForBook returns a book's comments, newest first, each with the
// commenting user's display name. An unknown book yields an empty list.
func (s *Comments) ListForBook(googleBookID string) ([]CommentEntry, error) {
	book, err := s.books.Lookup(googleBookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return []CommentEntry{}, nil
		}
		return nil, err
	}

	sql, args, err := squirrel.
		Select("c.id AS comment_id", "c.body", "c.created_at", "c.updated_at", "c.is_edited", "u.username").
		From("comments c").
		Join("users u ON c.user_id = u.id").
		Where(squirrel.Eq{"c.book_id": book.ID}).
		OrderBy("c.created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	entries := make([]CommentEntry, 0)
	res := s.db.Raw(sql, args...).Scan(&entries)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	return entries, nil
}

// Edit rewrites a comment's text. Only the author or an admin may edit; the
// edit marks the comment as edited and refreshes its update time.
func (s *Comments) Edit(commentID uint64, actor *db.User, body string) (*db.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalidInput("Comment text required")
	}

	comment := db.Comment{}
	res := s.db.First(&comment, commentID)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, errors.Wrap(res.Error, "find comment")
	}

	if comment.UserID != actor.ID && actor.Role != db.RoleAdmin {
		return nil, ErrForbidden
	}

	res = s.db.Model(&comment).Updates(map[string]interface{}{
		"body":      body,
		"is_edited": true,
	})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update comment")
	}

	res = s.db.First(&comment, commentID)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "reload comment")
	}

	return &comment, nil
}

// Delete removes a comment; admins only.
func (s *Comments) Delete(commentID uint64, actor *db.User) error {
	if actor.Role != db.RoleAdmin {
		return ErrForbidden
	}

	res := s.db.Delete(&db.Comment{}, commentID)
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete comment")
	}
	if res.RowsAffected == 0 {
		return ErrCommentNotFound
	}

	return nil
}

// ListForUser returns the actor's own comments, or every comment in the
// system when the actor is an admin. Each entry carries the book it belongs
// to.
func (s *Comments) ListForUser(actor *db.User) ([]UserCommentEntry, error) {
	q := squirrel.
		Select(
			"c.id AS comment_id", "c.body", "c.created_at", "c.updated_at", "c.is_edited",
			"u.username", "b.title AS book_title", "b.google_book_id",
		).
		From("comments c").
		Join("users u ON c.user_id = u.id").
		Join("books b ON c.book_id = b.id").
		OrderBy("c.created_at DESC")
	if actor.Role != db.RoleAdmin {
		q = q.Where(squirrel.Eq{"c.user_id": actor.ID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	entries := make([]UserCommentEntry, 0)
	res := s.db.Raw(sql, args...).Scan(&entries)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	return entries, nil
}
