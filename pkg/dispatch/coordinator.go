package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cuemby/trainyard/pkg/dataset"
)

// Multipart field names understood by the training coordinator
const (
	FieldModelDef     = "model_def"
	FieldData         = "data"
	FieldDataEncoding = "data_encoding"
	FieldCallbackURL  = "callback_url"
	FieldWorkers      = "workers"

	modelDefFilename = "model_def.py"
	dataFilename     = "dataset.csv"
	startPath        = "/start_training"
)

// StartRequest is everything the coordinator needs to start a training run
type StartRequest struct {
	TaskID          string
	ModelDefinition []byte
	Dataset         []byte // Uncompressed
	CallbackURL     string
	Workers         []string
}

// Coordinator starts training runs on the external coordinator
type Coordinator interface {
	StartTraining(ctx context.Context, req StartRequest) error
}

// Client is the HTTP client for the training coordinator
type Client struct {
	// BaseURL is the coordinator root, e.g. "http://coordinator:5000"
	BaseURL string

	// Compress sends the dataset gzipped with data_encoding=gzip
	Compress bool

	// HTTPClient performs the request. Deadlines come from the context.
	HTTPClient *http.Client
}

// NewClient creates a coordinator client sending raw datasets
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// WithCompression sets whether the dataset is gzipped on the wire
func (c *Client) WithCompression(compress bool) *Client {
	c.Compress = compress
	return c
}

// WithHTTPClient sets the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.HTTPClient = hc
	return c
}

// StartTraining POSTs the multipart start request to <BaseURL>/start_training
func (c *Client) StartTraining(ctx context.Context, req StartRequest) error {
	body, contentType, err := c.encode(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+startPath, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("coordinator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coordinator returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) encode(req StartRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writeFile(w, FieldModelDef, modelDefFilename, req.ModelDefinition); err != nil {
		return nil, "", err
	}

	data, filename := req.Dataset, dataFilename
	if c.Compress {
		packed, err := dataset.Compress(req.Dataset)
		if err != nil {
			return nil, "", err
		}
		data, filename = packed, dataFilename+".gz"
		if err := w.WriteField(FieldDataEncoding, "gzip"); err != nil {
			return nil, "", err
		}
	}
	if err := writeFile(w, FieldData, filename, data); err != nil {
		return nil, "", err
	}

	if err := w.WriteField(FieldCallbackURL, req.CallbackURL); err != nil {
		return nil, "", err
	}

	workers := req.Workers
	if workers == nil {
		workers = []string{}
	}
	encoded, err := json.Marshal(workers)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode workers: %w", err)
	}
	if err := w.WriteField(FieldWorkers, string(encoded)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write %s part: %w", field, err)
	}
	return nil
}
