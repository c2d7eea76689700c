// Package client provides the HTTP API client and the optimistic view
// of a directory listing.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/codekarta/filedock/pkg/models"
	"github.com/codekarta/filedock/pkg/protocol"
	"github.com/codekarta/filedock/pkg/retry"
)

// Client is the HTTP API client. Idempotent reads are retried with
// backoff; mutations are sent exactly once and their outcome reported
// as-is, so a caller never double-applies a rename or delete.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the session token for subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   protocol.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body.Error)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
	if resp.StatusCode >= 500 {
		// Server-side failures may be transient; reads retry them.
		return retry.Retryable(apiErr)
	}
	return apiErr
}

// doJSON issues a request and decodes a JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getJSON is doJSON for reads, wrapped in the retry loop.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
	})
}

// Login authenticates and stores the returned session token.
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	var resp protocol.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/token", nil,
		protocol.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.SetAuthToken(resp.Token)
	return &resp, nil
}

// ListOptions control a directory listing request.
type ListOptions struct {
	TenantID   string // superadmin only; empty uses the session tenant
	Page       int
	PageSize   int
	ShowHidden bool
}

// List fetches one page of a directory.
func (c *Client) List(ctx context.Context, dirPath string, opts ListOptions) (*protocol.ListResponse, error) {
	q := url.Values{"path": {dirPath}}
	addListOptions(q, opts)
	var resp protocol.ListResponse
	if err := c.getJSON(ctx, "/api/v1/files", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func addListOptions(q url.Values, opts ListOptions) {
	if opts.TenantID != "" {
		q.Set("tenantId", opts.TenantID)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opts.PageSize))
	}
	if opts.ShowHidden {
		q.Set("showHidden", "true")
	}
}

// SearchOptions control a search request. TenantID "all" fans the query
// out across every tenant (superadmin only).
type SearchOptions struct {
	TenantID   string
	Path       string
	Regex      bool
	ShowHidden bool
	Page       int
	PageSize   int
}

// Search runs a name search.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*protocol.SearchResponse, error) {
	q := url.Values{"q": {query}}
	if opts.TenantID != "" {
		q.Set("tenantId", opts.TenantID)
	}
	if opts.Path != "" {
		q.Set("searchPath", opts.Path)
	}
	if opts.Regex {
		q.Set("regex", "true")
	}
	if opts.ShowHidden {
		q.Set("showHidden", "true")
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opts.PageSize))
	}
	var resp protocol.SearchResponse
	if err := c.getJSON(ctx, "/api/v1/search", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches a file's bytes. Search-result paths of the form
// "tenantID:/path" are accepted as-is.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	q := url.Values{"path": {path}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/download?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// UploadInput is one file of an upload batch.
type UploadInput struct {
	Name string // may carry folder structure, e.g. "photos/a.jpg"
	Data []byte
}

// Upload sends a batch of files to be placed under basePath. Partial
// failure is a 200; inspect the response's Failures list.
func (c *Client) Upload(ctx context.Context, basePath string, files []UploadInput, level models.AccessLevel) (*protocol.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("basePath", basePath); err != nil {
		return nil, err
	}
	if level != "" {
		if err := mw.WriteField("mediaAccessLevel", string(level)); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		// relativePaths preserves folder structure; multipart filenames
		// are reduced to their base name in transit.
		if err := mw.WriteField("relativePaths", f.Name); err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile("files", path.Base(f.Name))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var out protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFolder creates a directory under dirPath.
func (c *Client) CreateFolder(ctx context.Context, dirPath, name string) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/folder", protocol.CreateRequest{Path: dirPath, Name: name})
}

// CreateFile creates a file with the given content.
func (c *Client) CreateFile(ctx context.Context, dirPath, name, content string, level models.AccessLevel) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/file", protocol.CreateRequest{
		Path: dirPath, Name: name, Content: content, AccessLevel: level,
	})
}

// Rename changes an entry's name within its directory.
func (c *Client) Rename(ctx context.Context, path, newName string) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/rename", protocol.RenameRequest{Path: path, NewName: newName})
}

// Move relocates an entry into the destination directory.
func (c *Client) Move(ctx context.Context, path, destination string) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/move", protocol.MoveRequest{Path: path, Destination: destination})
}

// Duplicate copies an entry to a collision-free sibling name.
func (c *Client) Duplicate(ctx context.Context, path string) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/duplicate", protocol.DuplicateRequest{Path: path})
}

// SetAccessLevel sets an entry's access level.
func (c *Client) SetAccessLevel(ctx context.Context, path string, level models.AccessLevel) (*models.FileEntry, error) {
	return c.entryCall(ctx, "/api/v1/access-level", protocol.AccessLevelRequest{Path: path, AccessLevel: level})
}

// Delete removes an entry; directories are removed recursively.
func (c *Client) Delete(ctx context.Context, path string) error {
	q := url.Values{"path": {path}}
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/delete", q, nil, nil)
}

func (c *Client) entryCall(ctx context.Context, path string, body any) (*models.FileEntry, error) {
	var resp protocol.EntryResponse
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Entry, nil
}
