// Package ingest implements the document ingestion pipeline: OCR via the
// parsing sidecar, structured extraction via the LLM, validation, and
// persistence of lab results.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const ocrHealthTimeout = 5 * time.Second

// OCRConfig configures the parsing sidecar client.
type OCRConfig struct {
	BaseURL string
	Timeout time.Duration
}

// OCRClient talks to the document-parsing sidecar's conversion endpoint.
type OCRClient struct {
	client  *http.Client
	baseURL string
}

// NewOCRClient creates a sidecar client.
func NewOCRClient(cfg OCRConfig) *OCRClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:5001"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OCRClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type convertSource struct {
	Kind     string `json:"kind"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

type convertRequest struct {
	Sources []convertSource `json:"sources"`
}

type convertDocument struct {
	MDContent string `json:"md_content"`
	Markdown  string `json:"markdown"`
	Output    string `json:"output"`
}

type convertResponse struct {
	Documents []convertDocument `json:"documents"`
	convertDocument
}

// Parse sends the stored file to the sidecar and returns the extracted
// markdown. Connection errors get one retry; HTTP errors do not.
func (c *OCRClient) Parse(ctx context.Context, filePath string) (string, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("document %s is empty", filepath.Base(filePath))
	}

	payload := convertRequest{
		Sources: []convertSource{{
			Kind:     "base64",
			Data:     base64.StdEncoding.EncodeToString(raw),
			Filename: filepath.Base(filePath),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	text, err := c.convert(ctx, body)
	if err != nil && isConnectionError(err) {
		text, err = c.convert(ctx, body)
	}
	return text, err
}

func (c *OCRClient) convert(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convert/source", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("ocr status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var decoded convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Documents) > 0 {
		if text := decoded.Documents[0].text(); text != "" {
			return text, nil
		}
	}
	if text := decoded.convertDocument.text(); text != "" {
		return text, nil
	}
	return "", errors.New("ocr returned no extractable text")
}

func (d convertDocument) text() string {
	switch {
	case d.MDContent != "":
		return d.MDContent
	case d.Markdown != "":
		return d.Markdown
	default:
		return d.Output
	}
}

// HealthCheck probes the sidecar's health endpoint.
func (c *OCRClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ocrHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr status %d", resp.StatusCode)
	}
	return nil
}

// isConnectionError reports whether err is a transport failure rather than an
// HTTP-level error, and therefore worth one retry.
func isConnectionError(err error) bool {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return false
	}
	return !urlErr.Timeout()
}
