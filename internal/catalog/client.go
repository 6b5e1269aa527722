package catalog

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/library-lookup/library-back/internal/config"
)

const requestTimeout = 10 * time.Second

type (
	// Volume is the slice of catalog metadata the rest of the service cares
	// about, flattened out of the volumes API response.
	Volume struct {
		GoogleBookID string   `json:"google_book_id"`
		Title        string   `json:"title"`
		Authors      []string `json:"authors"`
		Description  string   `json:"description,omitempty"`
		ImageURL     string   `json:"image_url,omitempty"`
		ISBN         string   `json:"isbn,omitempty"`
	}

	Client struct {
		http   *resty.Client
		url    string
		apiKey string
	}

	searchResponse struct {
		Items []struct {
			ID         string `json:"id"`
			VolumeInfo struct {
				Title       string   `json:"title"`
				Authors     []string `json:"authors"`
				Description string   `json:"description"`
				ImageLinks  struct {
					Thumbnail string `json:"thumbnail"`
				} `json:"imageLinks"`
				IndustryIdentifiers []struct {
					Type       string `json:"type"`
					Identifier string `json:"identifier"`
				} `json:"industryIdentifiers"`
			} `json:"volumeInfo"`
		} `json:"items"`
	}
)

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:   resty.New().SetTimeout(requestTimeout),
		url:    cfg.CatalogURL,
		apiKey: cfg.CatalogAPIKey,
	}
}

func (c *Client) Search(ctx context.Context, query string) ([]Volume, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&searchResponse{})
	if c.apiKey != "" {
		req.SetQueryParam("key", c.apiKey)
	}

	resp, err := req.Get(c.url)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request")
	}
	if resp.IsError() {
		return nil, errors.Errorf("catalog responded with status %d", resp.StatusCode())
	}

	body, ok := resp.Result().(*searchResponse)
	if !ok {
		return nil, errors.New("unexpected catalog response shape")
	}

	volumes := make([]Volume, 0, len(body.Items))
	for _, item := range body.Items {
		v := Volume{
			GoogleBookID: item.ID,
			Title:        item.VolumeInfo.Title,
			Authors:      item.VolumeInfo.Authors,
			Description:  item.VolumeInfo.Description,
			ImageURL:     item.VolumeInfo.ImageLinks.Thumbnail,
		}
		if v.Title == "" {
			v.Title = "Unknown Title"
		}
		for _, ident := range item.VolumeInfo.IndustryIdentifiers {
			if ident.Type == "ISBN_13" {
				v.ISBN = ident.Identifier
				break
			}
		}
		volumes = append(volumes, v)
	}

	return volumes, nil
}
