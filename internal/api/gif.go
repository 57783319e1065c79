package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GIF is one search result, trimmed to what the composer needs.
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl"`
}

// GIFClient searches the external GIF API (Giphy-shaped responses).
type GIFClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewGIFClient(baseURL, apiKey string) *GIFClient {
	return &GIFClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type gifSearchResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
			FixedWidthSmall struct {
				URL string `json:"url"`
			} `json:"fixed_width_small"`
		} `json:"images"`
	} `json:"data"`
}

func (c *GIFClient) Search(ctx context.Context, query string, limit int) ([]GIF, error) {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/gifs/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gif search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gif search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed gifSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode gif search response: %w", err)
	}

	gifs := make([]GIF, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		gifs = append(gifs, GIF{
			ID:         item.ID,
			Title:      item.Title,
			URL:        item.Images.Original.URL,
			PreviewURL: item.Images.FixedWidthSmall.URL,
		})
	}
	return gifs, nil
}
