package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxPreviewBytes = 64 << 20
	userAgent              = "increadable/1.0"
)

// Options configure the remote document service client
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	MaxPreviewBytes int64

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client implements domain.RemoteGateway over HTTP. It never retries.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxPreviewBytes int64
	logger          *zap.Logger
}

// NewClient creates a client for the service at opts.BaseURL
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &domain.ValidationError{Field: "gateway.base_url", Message: fmt.Sprintf("invalid URL %q", opts.BaseURL)}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxBytes := opts.MaxPreviewBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxPreviewBytes
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		httpClient:      httpClient,
		maxPreviewBytes: maxBytes,
		logger:          logger,
	}, nil
}

// FindByID fetches the descriptor of a document
func (c *Client) FindByID(ctx context.Context, id string) (*domain.RemoteDocument, error) {
	endpoint := c.baseURL + "/v1/documents/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "find document", URL: endpoint, Err: err}
	}

	var doc domain.RemoteDocument
	if err := c.doJSON(req, "find document", &doc); err != nil {
		// Only the descriptor lookup can tell that a document does not exist.
		var terr *domain.TransportError
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Upload sends a file as multipart field "file"
func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) (*domain.RemoteDocument, error) {
	endpoint := c.baseURL + "/v1/documents"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, &domain.TransportError{Op: "upload document", URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var doc domain.RemoteDocument
	if err := c.doJSON(req, "upload document", &doc); err != nil {
		return nil, err
	}

	c.logger.Info("document uploaded",
		zap.String("filename", filename),
		zap.String("doc_id", doc.ID),
	)
	return &doc, nil
}

// FetchPreview downloads the preview markup as text
func (c *Client) FetchPreview(ctx context.Context, previewURL string) (string, error) {
	u, err := url.Parse(previewURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &domain.TransportError{Op: "fetch preview", URL: previewURL, Err: errors.New("unsupported preview URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return "", &domain.TransportError{Op: "fetch preview", URL: previewURL, Err: err}
	}

	resp, err := c.do(req, "fetch preview")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPreviewBytes+1))
	if err != nil {
		return "", &domain.TransportError{Op: "fetch preview", URL: previewURL, Err: err}
	}
	if int64(len(data)) > c.maxPreviewBytes {
		return "", &domain.TransportError{
			Op:  "fetch preview",
			URL: previewURL,
			Err: fmt.Errorf("preview exceeds %d bytes", c.maxPreviewBytes),
		}
	}

	c.logger.Debug("preview fetched",
		zap.String("url", previewURL),
		zap.Int("bytes", len(data)),
	)
	return string(data), nil
}

// do sends the request and turns failures and non-2xx answers into
// *domain.TransportError
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("remote call failed",
			zap.String("op", op),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return nil, &domain.TransportError{Op: op, URL: req.URL.String(), Err: err}
	}

	c.logger.Debug("remote call",
		zap.String("op", op),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.TransportError{Op: op, URL: req.URL.String(), Status: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, op string, out *domain.RemoteDocument) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: op, URL: req.URL.String(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ID == "" || !out.Type.Valid() {
		return &domain.TransportError{
			Op:  op,
			URL: req.URL.String(),
			Err: fmt.Errorf("malformed document descriptor (id %q, type %q)", out.ID, out.Type),
		}
	}
	return nil
}

var _ domain.RemoteGateway = (*Client)(nil)
