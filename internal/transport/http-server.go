package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/library-lookup/library-back/internal/config"
	"github.com/library-lookup/library-back/internal/db"
	"github.com/library-lookup/library-back/internal/service"
	"github.com/library-lookup/library-back/internal/token"
)

type (
	RegisterReq struct {
		Username string `json:"username" validate:"required"`
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginReq struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	BookReq struct {
		GoogleBookID string   `json:"google_book_id" validate:"required"`
		Title        string   `json:"title" validate:"required"`
		Authors      []string `json:"authors"`
		Description  string   `json:"description"`
		ImageURL     string   `json:"image_url"`
	}

	TagReq struct {
		TagName string `json:"tag_name" validate:"required"`
	}

	RatingReq struct {
		GoogleBookID string `json:"google_book_id" validate:"required"`
		Rating       int    `json:"rating" validate:"required"`
	}

	CommentReq struct {
		GoogleBookID string `json:"google_book_id" validate:"required"`
		Comment      string `json:"comment" validate:"required"`
	}

	CommentEditReq struct {
		Comment string `json:"comment" validate:"required"`
	}

	UserResp struct {
		ID       uint64 `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role,omitempty"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		auth     *service.Auth
		books    *service.Books
		ratings  *service.Ratings
		comments *service.Comments
		tokens   *token.Manager
		logger   *zap.SugaredLogger
	}
)

func NewHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	auth *service.Auth,
	books *service.Books,
	ratings *service.Ratings,
	comments *service.Comments,
	tokens *token.Manager,
	logger *zap.SugaredLogger,
) *HTTPServer {
	e := echo.New()

	instance := HTTPServer{
		auth:     auth,
		books:    books,
		ratings:  ratings,
		comments: comments,
		tokens:   tokens,
		logger:   logger,
	}

	api := e.Group("/api")

	userG := api.Group("/users")
	userG.POST("/register", instance.Register)
	userG.POST("/login", instance.Login)

	bookG := api.Group("/books")
	bookG.GET("", instance.BookSearch)
	bookG.POST("", instance.BookUpsert)
	bookG.POST("/:google_book_id/feature", instance.BookFeature, instance.RequireUser, instance.RequireAdmin)
	bookG.POST("/:google_book_id/tags", instance.TagAdd, instance.RequireUser, instance.RequireAdmin)
	bookG.DELETE("/:google_book_id/tags/:tag_name", instance.TagRemove, instance.RequireUser, instance.RequireAdmin)

	ratingG := api.Group("/ratings")
	ratingG.POST("", instance.RatingSet, instance.RequireUser)
	ratingG.GET("/:google_book_id", instance.RatingList)
	ratingG.GET("/:google_book_id/average", instance.RatingAverage)

	commentG := api.Group("/comments")
	commentG.POST("", instance.CommentAdd, instance.RequireUser)
	commentG.GET("/user/comments", instance.CommentListForUser, instance.RequireUser)
	commentG.GET("/:google_book_id", instance.CommentList)
	commentG.PUT("/:comment_id", instance.CommentEdit, instance.RequireUser)
	commentG.DELETE("/:comment_id", instance.CommentDelete, instance.RequireUser)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

func (s *HTTPServer) Register(c echo.Context) error {
	req := RegisterReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := s.auth.Register(req.Username, req.Email, req.Password)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"user": UserResp{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

func (s *HTTPServer) Login(c echo.Context) error {
	req := LoginReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	signed, user, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token": signed,
		"user":  UserResp{ID: user.ID, Username: user.Username, Email: user.Email, Role: user.Role},
	})
}

// BookSearch serves GET /api/books. Without q or tag it lists featured
// books; with tag it filters them; with q it proxies the catalog and caches
// the results.
func (s *HTTPServer) BookSearch(c echo.Context) error {
	q := c.QueryParam("q")
	tag := c.QueryParam("tag")

	if q == "" {
		books, err := s.books.Featured(tag)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"items": books})
	}

	volumes, err := s.books.Search(c.Request().Context(), q)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": volumes})
}

func (s *HTTPServer) BookUpsert(c echo.Context) error {
	req := BookReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	book, err := s.books.Resolve(req.GoogleBookID, service.BookMeta{
		Title:       req.Title,
		Authors:     req.Authors,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"book": book})
}

func (s *HTTPServer) BookFeature(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}

	book, err := s.books.MarkFeatured(gid)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Book marked as featured", "book": book})
}

func (s *HTTPServer) TagAdd(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}

	req := TagReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if err := s.books.AddTag(gid, req.TagName); err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Tag added to book"})
}

func (s *HTTPServer) TagRemove(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}
	tagName, err := GetParam(c, "tag_name")
	if err != nil {
		return err
	}

	if err := s.books.RemoveTag(gid, tagName); err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Tag removed from book"})
}

func (s *HTTPServer) RatingSet(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := RatingReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	rating, err := s.ratings.Set(user.ID, req.GoogleBookID, req.Rating)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Rating saved successfully",
		"rating":  rating,
	})
}

func (s *HTTPServer) RatingList(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}

	entries, err := s.ratings.List(gid)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"ratings": entries})
}

func (s *HTTPServer) RatingAverage(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}

	summary, err := s.ratings.Average(gid)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"average_rating": FormatAverage(summary.Average),
		"rating_count":   summary.Count,
	})
}

func (s *HTTPServer) CommentAdd(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := CommentReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	comment, err := s.comments.Add(user.ID, req.GoogleBookID, req.Comment)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Comment added successfully",
		"comment": comment,
	})
}

func (s *HTTPServer) CommentList(c echo.Context) error {
	gid, err := GetParam(c, "google_book_id")
	if err != nil {
		return err
	}

	entries, err := s.comments.ListForBook(gid)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"comments": entries})
}

func (s *HTTPServer) CommentEdit(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}
	id, err := GetAndParseParam(c, "comment_id")
	if err != nil {
		return err
	}

	req := CommentEditReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	comment, err := s.comments.Edit(id, user, req.Comment)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Comment updated successfully",
		"comment": comment,
	})
}

func (s *HTTPServer) CommentDelete(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}
	id, err := GetAndParseParam(c, "comment_id")
	if err != nil {
		return err
	}

	if err := s.comments.Delete(id, user); err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Comment deleted successfully"})
}

func (s *HTTPServer) CommentListForUser(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	entries, err := s.comments.ListForUser(user)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"comments": entries})
}

// RequireUser validates the bearer token and reloads the user row behind it
// into the request context. The role claim inside the token is never
// trusted; downstream checks read the stored role.
func (s *HTTPServer) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if raw == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
		}

		claims, err := s.tokens.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid token"})
		}

		user, err := s.auth.UserByID(claims.UserID)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid token"})
		}

		c.Set("user", user)
		return next(c)
	}
}

func (s *HTTPServer) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := GetUserFromContext(c)
		if err != nil {
			return err
		}
		if user.Role != db.RoleAdmin {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "Admin access required"})
		}
		return next(c)
	}
}

func (s *HTTPServer) writeError(c echo.Context, err error) error {
	var invalid *service.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": invalid.Reason})
	case errors.Is(err, service.ErrDuplicateEmail):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid credentials"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Insufficient permissions"})
	case errors.Is(err, service.ErrBookNotFound),
		errors.Is(err, service.ErrTagNotFound),
		errors.Is(err, service.ErrTagLinkNotFound),
		errors.Is(err, service.ErrCommentNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	default:
		s.logger.Errorw("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
	}
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// BearerToken pulls the token out of an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// FormatAverage renders the aggregate with two decimal places; rounding is a
// display concern, ratings are stored as integers.
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 2, 64)
}

func GetUserFromContext(c echo.Context) (*db.User, error) {
	user, ok := c.Get("user").(*db.User)
	if !ok || user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return user, nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}
