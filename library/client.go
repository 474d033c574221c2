// Package library reaches the track storage: either the storage/download
// service over HTTP or a plain local directory.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beatdeck/logger"
)

var (
	// ErrDuplicate is returned when the source link was already downloaded.
	ErrDuplicate = errors.New("track already downloaded")
	// ErrNotFound is returned for unknown files.
	ErrNotFound = errors.New("file not found")
	// ErrUnsupported is returned by libraries that cannot download.
	ErrUnsupported = errors.New("operation not supported")
)

// File is one stored track.
type File struct {
	MP3       string `json:"mp3"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Library is what decks and the UI need from track storage.
type Library interface {
	List(ctx context.Context) ([]File, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Download(ctx context.Context, link string) error
	Delete(ctx context.Context, fileName string) error
}

// StatusError is a non-2xx answer from the storage service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Client talks to the storage/download service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// downloads transcode on the server side and can be slow
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: logger.WithComponent("library"),
	}
}

// List returns the stored files, newest first.
func (c *Client) List(ctx context.Context) ([]File, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []File
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return files, nil
}

// Download asks the service to fetch and transcode link.
func (c *Client) Download(ctx context.Context, link string) error {
	if link == "" {
		return errors.New("empty link")
	}
	resp, err := c.do(ctx, http.MethodPost, "/download", map[string]string{"yt_link": link})
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.logger.Info("Downloaded track", slog.String("link", link))
	return nil
}

// Delete removes a file, its thumbnail and its record.
func (c *Client) Delete(ctx context.Context, fileName string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/delete", map[string]string{"fileName": fileName})
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.logger.Info("Deleted track", slog.String("file", fileName))
	return nil
}

// Open streams a stored asset by file name, or any absolute http(s) URL.
func (c *Client) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	target := name
	if !isURL(name) {
		target = c.baseURL + "/" + url.PathEscape(name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &StatusError{
		Method: resp.Request.Method,
		Path:   resp.Request.URL.Path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(msg)),
	}
	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrDuplicate, serr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, serr)
	}
	return serr
}

func isURL(name string) bool {
	u, err := url.Parse(name)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
