// Package detect is the client for the external document detection service,
// which accepts an image and returns PII spans, signature regions and OCR
// text.
package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/redactly/redactly/internal/logger"
)

// ErrTransport indicates the detection service could not be reached or
// returned a non-success status.
var ErrTransport = errors.New("detection service request failed")

// Client calls the detection service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a detection client. The timeout bounds the whole call;
// expiry surfaces as a transport failure.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// ProcessDocument uploads the image and returns the decoded detection
// result. The body of a non-2xx response is captured verbatim in the error.
func (c *Client) ProcessDocument(ctx context.Context, filename string, data []byte, useLLM bool) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := writer.WriteField("use_llm", strconv.FormatBool(useLLM)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_document", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s - %s", ErrTransport, resp.Status, string(raw))
	}

	result, err := ParseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}

	c.logger.Debug("Document processed",
		zap.String("filename", filename),
		zap.Bool("use_llm", useLLM),
		zap.Int("pii_entities", len(result.PIIDetection)),
		zap.Int("signatures", len(result.Signatures)),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}
