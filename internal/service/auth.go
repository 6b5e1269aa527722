package service

import (
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/library-lookup/library-back/internal/config"
	"github.com/library-lookup/library-back/internal/db"
	"github.com/library-lookup/library-back/internal/token"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Auth struct {
	db     *gorm.DB
	tokens *token.Manager
	cost   int
	logger *zap.SugaredLogger
}

func NewAuth(gdb *gorm.DB, tokens *token.Manager, cfg *config.Config, l *zap.SugaredLogger) *Auth {
	return &Auth{
		db:     gdb,
		tokens: tokens,
		cost:   cfg.BcryptCost,
		logger: l,
	}
}

func (s *Auth) Register(username, email, password string) (*db.User, error) {
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}

	existing := db.User{}
	res := s.db.Where("email = ?", email).First(&existing)
	if res.Error == nil {
		return nil, ErrDuplicateEmail
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(res.Error, "check existing user")
	}

	hash, err := s.bcryptGen(password)
	if err != nil {
		return nil, errors.Wrap(err, "bcryptGen")
	}

	model := db.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         db.RoleUser,
	}
	// The unique constraint on email backs the check above when two
	// registrations race.
	if res := s.db.Create(&model); res.Error != nil {
		return nil, errors.Wrap(res.Error, "create user")
	}

	s.logger.Infow("user registered", "user_id", model.ID, "email", model.Email)
	return &model, nil
}

func (s *Auth) Login(email, password string) (string, *db.User, error) {
	user := db.User{}
	res := s.db.Where("email = ?", email).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, errors.Wrap(res.Error, "find user")
	}

	if err := s.bcryptCheck(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	signed, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return "", nil, errors.Wrap(err, "issue token")
	}

	return signed, &user, nil
}

// UserByID reloads the user row backing a token claim. Role checks always go
// through here so a role change takes effect without re-login.
func (s *Auth) UserByID(id uint64) (*db.User, error) {
	user := db.User{}
	res := s.db.First(&user, id)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(res.Error, "find user")
	}
	return &user, nil
}

func validateRegistration(username, email, password string) error {
	if len(username) < 3 || len(username) > 50 {
		return invalidInput("Username must be between 3 and 50 characters")
	}
	if !emailRe.MatchString(email) {
		return invalidInput("Invalid email format")
	}
	if len(password) < 4 {
		return invalidInput("Password must be at least 4 characters long")
	}
	return nil
}

func (s *Auth) bcryptGen(pass string) (string, error) {
	passwordHashB, err := bcrypt.GenerateFromPassword([]byte(pass), s.cost)
	if err != nil {
		return "", errors.Wrap(err, "generate password hash")
	}
	return string(passwordHashB), nil
}

func (s *Auth) bcryptCheck(hash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}
