package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
)

// StatusError is a non-success response without a dedicated sentinel.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithBearer sends "Authorization: Bearer <token>" on every request.
func WithBearer(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// Client talks to a Server for one room.
type Client struct {
	base   string
	room   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

var _ snapshot.Service = (*Client)(nil)

// NewClient creates a client for the room served at baseURL.
func NewClient(baseURL, room string, opts ...ClientOption) *Client {
	c := &Client{
		base:   baseURL,
		room:   room,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(parts ...string) string {
	u := c.base + "/rooms/" + url.PathEscape(c.room)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(method, target, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	return nil
}

func (c *Client) statusError(method, target string, resp *http.Response) error {
	var body errorBody
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	c.logger.Debug("request failed",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"error", body.Error)

	switch resp.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, target, snapshot.ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, target, snapshot.ErrNotFound)
	default:
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
}

func (c *Client) doJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, target, body, contentType, out)
}

// Create implements snapshot.Service.
func (c *Client) Create(ctx context.Context, snap ir.Snapshot) (ir.Snapshot, error) {
	var out ir.Snapshot
	err := c.doJSON(ctx, http.MethodPost, c.url("snapshots"), snap, &out)
	return out, err
}

// Rename implements snapshot.Service.
func (c *Client) Rename(ctx context.Context, id, intent string) error {
	return c.doJSON(ctx, http.MethodPatch, c.url("snapshots", id), renameRequest{Intent: intent}, nil)
}

// Delete implements snapshot.Service.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.url("snapshots", id), nil, nil)
}

// Apply implements snapshot.Service.
func (c *Client) Apply(ctx context.Context, id string) (ir.Snapshot, error) {
	var out ir.Snapshot
	err := c.doJSON(ctx, http.MethodPost, c.url("snapshots", id, "apply"), nil, &out)
	return out, err
}

// List implements snapshot.Service.
func (c *Client) List(ctx context.Context) ([]ir.SnapshotInfo, error) {
	var out []ir.SnapshotInfo
	err := c.doJSON(ctx, http.MethodGet, c.url("snapshots"), nil, &out)
	return out, err
}

// Get implements snapshot.Service.
func (c *Client) Get(ctx context.Context, id string) (ir.Snapshot, error) {
	var out ir.Snapshot
	err := c.doJSON(ctx, http.MethodGet, c.url("snapshots", id), nil, &out)
	return out, err
}

// Upload sends an attachment as a multipart form and returns the stored
// file's metadata.
func (c *Client) Upload(ctx context.Context, a ir.Attachment) (ir.FileMeta, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return ir.FileMeta{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return ir.FileMeta{}, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return ir.FileMeta{}, fmt.Errorf("build upload: %w", err)
	}

	var meta ir.FileMeta
	err = c.do(ctx, http.MethodPost, c.url("files"), &buf, mw.FormDataContentType(), &meta)
	return meta, err
}
