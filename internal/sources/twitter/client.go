// Package twitter fetches an entity's latest post from the Twitter v2 API.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
)

const defaultBaseURL = "https://api.twitter.com/2"

// Config controls the API client.
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// Client is a thin JSON client over the v2 user and tweet lookup endpoints.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// LatestTweetSource returns the fetch function for the latest_tweet field.
// The handle comes from the assembled fetch context; the policy engine
// guarantees it is present before the source is called.
func (c *Client) LatestTweetSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		handle, _ := fctx[entity.FieldTwitterHandle].(string)
		if handle == "" {
			return entity.FetchResult{Success: false, Error: fmt.Sprintf("no twitter handle in context for %s", entityID)}
		}
		tweet, err := c.latestTweet(context.Background(), handle)
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		return entity.FetchResult{Success: true, Data: tweet}
	}
}

type userLookup struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type tweetLookup struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}

func (c *Client) latestTweet(ctx context.Context, handle string) (map[string]any, error) {
	var user userLookup
	path := fmt.Sprintf("/users/by/username/%s", url.PathEscape(handle))
	if err := c.getJSON(ctx, path, nil, &user); err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", handle, err)
	}
	if user.Data.ID == "" {
		return nil, fmt.Errorf("twitter user %q not found", handle)
	}

	var tweets tweetLookup
	params := url.Values{
		"max_results":  {"5"},
		"tweet.fields": {"created_at"},
		"exclude":      {"retweets,replies"},
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%s/tweets", user.Data.ID), params, &tweets); err != nil {
		return nil, fmt.Errorf("lookup tweets for %q: %w", handle, err)
	}
	if len(tweets.Data) == 0 {
		return nil, fmt.Errorf("no tweets found for %q", handle)
	}
	latest := tweets.Data[0]
	return map[string]any{
		"id":         latest.ID,
		"text":       latest.Text,
		"created_at": latest.CreatedAt,
		"handle":     handle,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitter request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twitter responded %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode twitter response: %w", err)
	}
	return nil
}
