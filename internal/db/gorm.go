package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/library-lookup/library-back/internal/config"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type (
	GormForkedModel struct {
		ID        uint64    `gorm:"primarykey" json:"id"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	User struct {
		GormForkedModel
		Username     string    `gorm:"not null" json:"username"`
		Email        string    `gorm:"unique;not null" json:"email"`
		PasswordHash string    `gorm:"not null" json:"-"`
		Role         string    `gorm:"not null;default:user" json:"role"`
		Ratings      []Rating  `json:"-"`
		Comments     []Comment `json:"-"`
	}

	Book struct {
		GormForkedModel
		GoogleBookID string         `gorm:"unique;not null" json:"google_book_id"`
		Title        string         `gorm:"not null" json:"title"`
		Authors      pq.StringArray `gorm:"type:text[]" json:"authors"`
		Description  string         `json:"description,omitempty"`
		ImageURL     string         `json:"image_url,omitempty"`
		ISBN         string         `json:"isbn,omitempty"`
		Featured     bool           `gorm:"not null;default:false" json:"featured"`
		Tags         []Tag          `gorm:"many2many:book_tags;" json:"-"`
	}

	Tag struct {
		GormForkedModel
		Name  string `gorm:"unique;not null" json:"name"`
		Books []Book `gorm:"many2many:book_tags;" json:"-"`
	}

	Rating struct {
		GormForkedModel
		UserID uint64 `gorm:"not null;uniqueIndex:uidx_user_book" json:"user_id"`
		User   User   `json:"-"`
		BookID uint64 `gorm:"not null;uniqueIndex:uidx_user_book" json:"book_id"`
		Book   Book   `json:"-"`
		Rating int    `gorm:"not null" json:"rating"`
	}

	Comment struct {
		GormForkedModel
		BookID   uint64 `gorm:"not null" json:"book_id"`
		Book     Book   `json:"-"`
		UserID   uint64 `gorm:"not null" json:"user_id"`
		User     User   `json:"-"`
		Body     string `gorm:"not null" json:"comment"`
		IsEdited bool   `gorm:"not null;default:false" json:"is_edited"`
	}
)

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		Colorful:                  true,
		IgnoreRecordNotFoundError: true,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Book{}); err != nil {
		return nil, errors.Wrap(err, "migrate book")
	}
	if err := db.AutoMigrate(&Tag{}); err != nil {
		return nil, errors.Wrap(err, "migrate tag")
	}
	if err := db.AutoMigrate(&Rating{}); err != nil {
		return nil, errors.Wrap(err, "migrate rating")
	}
	if err := db.AutoMigrate(&Comment{}); err != nil {
		return nil, errors.Wrap(err, "migrate comment")
	}

	return db, nil
}
