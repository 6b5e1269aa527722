package test_functional

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	userResp struct {
		ID       uint64 `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}

	registerResp struct {
		User userResp `json:"user"`
	}

	loginResp struct {
		Token string   `json:"token"`
		User  userResp `json:"user"`
	}

	bookResp struct {
		Book struct {
			ID           uint64   `json:"id"`
			GoogleBookID string   `json:"google_book_id"`
			Title        string   `json:"title"`
			Authors      []string `json:"authors"`
		} `json:"book"`
	}

	averageResp struct {
		AverageRating string `json:"average_rating"`
		RatingCount   int64  `json:"rating_count"`
	}

	commentResp struct {
		Comment struct {
			ID       uint64 `json:"id"`
			Body     string `json:"comment"`
			IsEdited bool   `json:"is_edited"`
		} `json:"comment"`
	}

	commentListResp struct {
		Comments []struct {
			CommentID uint64 `json:"comment_id"`
			Body      string `json:"comment"`
			IsEdited  bool   `json:"is_edited"`
			Username  string `json:"username"`
		} `json:"comments"`
	}

	account struct {
		Email    string
		Password string
		Token    string
		User     userResp
	}
)

func baseURL() string {
	return fmt.Sprintf("http://%s:%s/api", cfg.Host, cfg.Port)
}

func registerAndLogin(t *testing.T, cl *resty.Client) account {
	t.Helper()

	email := fmt.Sprintf("user-%s@example.com", uuid.New().String())
	password := "passw"

	resp, err := cl.R().
		SetBody(map[string]string{"username": "ash", "email": email, "password": password}).
		Post(baseURL() + "/users/register")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	login, err := cl.R().
		SetBody(map[string]string{"email": email, "password": password}).
		Post(baseURL() + "/users/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, login.StatusCode(), login.String())

	parsed := loginResp{}
	require.NoError(t, json.Unmarshal(login.Body(), &parsed))
	require.NotEmpty(t, parsed.Token)

	return account{Email: email, Password: password, Token: parsed.Token, User: parsed.User}
}

func loginAdmin(t *testing.T, cl *resty.Client) account {
	t.Helper()

	if cfg.AdminEmail == "" {
		t.Skip("TEST_RUNNER_ADMIN_EMAIL not set")
	}

	login, err := cl.R().
		SetBody(map[string]string{"email": cfg.AdminEmail, "password": cfg.AdminPassword}).
		Post(baseURL() + "/users/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, login.StatusCode(), login.String())

	parsed := loginResp{}
	require.NoError(t, json.Unmarshal(login.Body(), &parsed))
	require.Equal(t, "admin", parsed.User.Role)

	return account{Email: cfg.AdminEmail, Password: cfg.AdminPassword, Token: parsed.Token, User: parsed.User}
}

func TestRegisterValidation(t *testing.T) {
	cl := resty.New()

	resp, err := cl.R().
		SetBody(map[string]string{
			"username": "ash",
			"email":    fmt.Sprintf("short-%s@example.com", uuid.New().String()),
			"password": "abc",
		}).
		Post(baseURL() + "/users/register")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())

	resp, err = cl.R().
		SetBody(map[string]string{
			"username": "ash",
			"email":    fmt.Sprintf("ok-%s@example.com", uuid.New().String()),
			"password": "abcd",
		}).
		Post(baseURL() + "/users/register")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	cl := resty.New()
	acc := registerAndLogin(t, cl)

	resp, err := cl.R().
		SetBody(map[string]string{"username": "other", "email": acc.Email, "password": "passw"}).
		Post(baseURL() + "/users/register")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	cl := resty.New()
	acc := registerAndLogin(t, cl)

	resp, err := cl.R().
		SetBody(map[string]string{"email": acc.Email, "password": "wrong"}).
		Post(baseURL() + "/users/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	resp, err = cl.R().
		SetBody(map[string]string{"email": "nobody@example.com", "password": "wrong"}).
		Post(baseURL() + "/users/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestBookUpsertIsIdempotent(t *testing.T) {
	cl := resty.New()
	gid := "vol-" + uuid.New().String()

	first, err := cl.R().
		SetBody(map[string]interface{}{
			"google_book_id": gid,
			"title":          "First Title",
			"authors":        []string{"Author One"},
		}).
		Post(baseURL() + "/books")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, first.StatusCode(), first.String())

	second, err := cl.R().
		SetBody(map[string]interface{}{
			"google_book_id": gid,
			"title":          "Second Title",
			"authors":        []string{"Author Two"},
		}).
		Post(baseURL() + "/books")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, second.StatusCode(), second.String())

	firstBook := bookResp{}
	secondBook := bookResp{}
	require.NoError(t, json.Unmarshal(first.Body(), &firstBook))
	require.NoError(t, json.Unmarshal(second.Body(), &secondBook))

	// One row per catalog id: the second upsert lands on the same row with
	// the refreshed metadata.
	assert.Equal(t, firstBook.Book.ID, secondBook.Book.ID)
	assert.Equal(t, "Second Title", secondBook.Book.Title)
	assert.Equal(t, []string{"Author Two"}, secondBook.Book.Authors)
}

func TestRatingUpsertAndAverage(t *testing.T) {
	cl := resty.New()
	acc := registerAndLogin(t, cl)
	gid := "vol-" + uuid.New().String()

	resp, err := cl.R().
		SetAuthToken(acc.Token).
		SetBody(map[string]interface{}{"google_book_id": gid, "rating": 4}).
		Post(baseURL() + "/ratings")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	avg := averageResp{}
	resp, err = cl.R().Get(baseURL() + "/ratings/" + gid + "/average")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Body(), &avg))
	assert.Equal(t, "4.00", avg.AverageRating)
	assert.Equal(t, int64(1), avg.RatingCount)

	// A second rating by the same user replaces the first, never adds a row.
	resp, err = cl.R().
		SetAuthToken(acc.Token).
		SetBody(map[string]interface{}{"google_book_id": gid, "rating": 2}).
		Post(baseURL() + "/ratings")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	resp, err = cl.R().Get(baseURL() + "/ratings/" + gid + "/average")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Body(), &avg))
	assert.Equal(t, "2.00", avg.AverageRating)
	assert.Equal(t, int64(1), avg.RatingCount)
}

func TestAverageOfUnratedBook(t *testing.T) {
	cl := resty.New()

	avg := averageResp{}
	resp, err := cl.R().Get(baseURL() + "/ratings/never-rated-" + uuid.New().String() + "/average")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Body(), &avg))
	assert.Equal(t, "0.00", avg.AverageRating)
	assert.Equal(t, int64(0), avg.RatingCount)
}

func TestRatingRequiresAuth(t *testing.T) {
	cl := resty.New()

	resp, err := cl.R().
		SetBody(map[string]interface{}{"google_book_id": "vol-x", "rating": 4}).
		Post(baseURL() + "/ratings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestRatingRejectsOutOfRange(t *testing.T) {
	cl := resty.New()
	acc := registerAndLogin(t, cl)

	resp, err := cl.R().
		SetAuthToken(acc.Token).
		SetBody(map[string]interface{}{"google_book_id": "vol-" + uuid.New().String(), "rating": 6}).
		Post(baseURL() + "/ratings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
}

func TestCommentPermissions(t *testing.T) {
	cl := resty.New()
	author := registerAndLogin(t, cl)
	stranger := registerAndLogin(t, cl)
	gid := "vol-" + uuid.New().String()

	created := commentResp{}
	resp, err := cl.R().
		SetAuthToken(author.Token).
		SetBody(map[string]string{"google_book_id": gid, "comment": "a thoughtful remark"}).
		Post(baseURL() + "/comments")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	require.NoError(t, json.Unmarshal(resp.Body(), &created))
	commentPath := fmt.Sprintf("%s/comments/%d", baseURL(), created.Comment.ID)

	// Listed for everyone, newest first, with the author's display name.
	listed := commentListResp{}
	resp, err = cl.R().Get(baseURL() + "/comments/" + gid)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Body(), &listed))
	require.Len(t, listed.Comments, 1)
	assert.Equal(t, "a thoughtful remark", listed.Comments[0].Body)
	assert.Equal(t, "ash", listed.Comments[0].Username)
	assert.False(t, listed.Comments[0].IsEdited)

	// A non-author, non-admin cannot edit.
	resp, err = cl.R().
		SetAuthToken(stranger.Token).
		SetBody(map[string]string{"comment": "hijacked"}).
		Put(commentPath)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	// The author can, and the edit is flagged.
	edited := commentResp{}
	resp, err = cl.R().
		SetAuthToken(author.Token).
		SetBody(map[string]string{"comment": "a revised remark"}).
		Put(commentPath)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())
	require.NoError(t, json.Unmarshal(resp.Body(), &edited))
	assert.Equal(t, "a revised remark", edited.Comment.Body)
	assert.True(t, edited.Comment.IsEdited)

	// Deletion is admin-only; even the author is refused.
	resp, err = cl.R().SetAuthToken(author.Token).Delete(commentPath)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
}

func TestAdminDeletesComment(t *testing.T) {
	cl := resty.New()
	admin := loginAdmin(t, cl)
	author := registerAndLogin(t, cl)
	gid := "vol-" + uuid.New().String()

	created := commentResp{}
	resp, err := cl.R().
		SetAuthToken(author.Token).
		SetBody(map[string]string{"google_book_id": gid, "comment": "to be removed"}).
		Post(baseURL() + "/comments")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	require.NoError(t, json.Unmarshal(resp.Body(), &created))

	resp, err = cl.R().
		SetAuthToken(admin.Token).
		Delete(fmt.Sprintf("%s/comments/%d", baseURL(), created.Comment.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	listed := commentListResp{}
	resp, err = cl.R().Get(baseURL() + "/comments/" + gid)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Body(), &listed))
	assert.Empty(t, listed.Comments)
}

func TestFeatureRequiresAdmin(t *testing.T) {
	cl := resty.New()
	acc := registerAndLogin(t, cl)

	resp, err := cl.R().
		SetAuthToken(acc.Token).
		Post(baseURL() + "/books/vol-x/feature")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
}

func TestAdminCuratesFeaturedBooks(t *testing.T) {
	cl := resty.New()
	admin := loginAdmin(t, cl)
	gid := "vol-" + uuid.New().String()

	resp, err := cl.R().
		SetBody(map[string]interface{}{
			"google_book_id": gid,
			"title":          "A Curated Pick",
			"authors":        []string{"Someone"},
		}).
		Post(baseURL() + "/books")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	resp, err = cl.R().SetAuthToken(admin.Token).Post(baseURL() + "/books/" + gid + "/feature")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	resp, err = cl.R().
		SetAuthToken(admin.Token).
		SetBody(map[string]string{"tag_name": "curated"}).
		Post(baseURL() + "/books/" + gid + "/tags")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	featured := struct {
		Items []struct {
			GoogleBookID string   `json:"google_book_id"`
			Tags         []string `json:"tags"`
		} `json:"items"`
	}{}
	resp, err = cl.R().SetQueryParam("tag", "curated").Get(baseURL() + "/books")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Body(), &featured))

	found := false
	for _, item := range featured.Items {
		if item.GoogleBookID == gid {
			found = true
			assert.Contains(t, item.Tags, "curated")
		}
	}
	assert.True(t, found, "featured listing should contain the curated book")

	resp, err = cl.R().SetAuthToken(admin.Token).Delete(baseURL() + "/books/" + gid + "/tags/curated")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	// Removing the link again is a 404, not a silent no-op.
	resp, err = cl.R().SetAuthToken(admin.Token).Delete(baseURL() + "/books/" + gid + "/tags/curated")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
}
