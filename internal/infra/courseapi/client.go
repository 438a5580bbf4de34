// Package courseapi provides a client for the course REST API.
package courseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Client is a course API client. It satisfies progress.Sink.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents course API client configuration.
// AccessToken wins over the refresh-token flow when both are set.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	Timeout      time.Duration
}

// Lesson is the subset of the lesson resource the player needs.
type Lesson struct {
	ID          string  `json:"id"`
	ModuleID    string  `json:"module_id"`
	Title       string  `json:"title"`
	VideoURL    string  `json:"video_url"`
	Duration    float64 `json:"duration"`
	Progress    float64 `json:"progress"`
	Description string  `json:"description"`
}

// APIError represents a non-2xx response from the course API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("course api error %d: %s", e.StatusCode, e.Message)
}

// progressRequest is the body of POST /lessons/{id}/progress.
type progressRequest struct {
	Progress float64 `json:"progress"`
}

// New creates a new course API client authenticated against the identity provider.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("course api base url is required")
	}

	var ts oauth2.TokenSource
	switch {
	case cfg.AccessToken != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	case cfg.RefreshToken != "":
		if cfg.TokenURL == "" || cfg.ClientID == "" {
			return nil, errors.New("token url and client id are required for the refresh token flow")
		}
		auth := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		}
		// Create token from refresh token; the first request triggers a refresh.
		ts = auth.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	default:
		return nil, errors.New("course api credentials are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// ReportProgress posts the watch percentage of a lesson.
// Each call carries the full value, so a duplicate is harmless.
func (c *Client) ReportProgress(ctx context.Context, lessonID string, percentage float64) error {
	if lessonID == "" {
		return errors.New("lesson id is required")
	}

	body, err := json.Marshal(progressRequest{Progress: percentage})
	if err != nil {
		return errors.Wrap(err, "failed to encode progress")
	}

	reqURL := c.baseURL + "/lessons/" + url.PathEscape(lessonID) + "/progress"
	if _, err := c.do(ctx, http.MethodPost, reqURL, body); err != nil {
		return errors.Wrapf(err, "failed to report progress for lesson %s", lessonID)
	}
	return nil
}

// GetLesson retrieves a lesson by ID.
func (c *Client) GetLesson(ctx context.Context, lessonID string) (*Lesson, error) {
	if lessonID == "" {
		return nil, errors.New("lesson id is required")
	}

	reqURL := c.baseURL + "/lessons/" + url.PathEscape(lessonID)

	var data []byte
	err := c.retry(ctx, func() error {
		var err error
		data, err = c.do(ctx, http.MethodGet, reqURL, nil)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get lesson %s", lessonID)
	}

	var lesson Lesson
	if err := json.Unmarshal(data, &lesson); err != nil {
		return nil, errors.Wrap(err, "failed to parse lesson")
	}
	if lesson.ID == "" {
		lesson.ID = lessonID
	}

	zlog.Debug().Str("lesson_id", lesson.ID).Str("title", lesson.Title).Msg("courseapi: lesson fetched")
	return &lesson, nil
}

// do sends a request and returns the response body for 2xx responses.
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	return data, nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(data []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable reports whether the API answered with a rate limit or server error.
func isRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}
