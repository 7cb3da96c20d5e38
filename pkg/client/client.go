package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/api"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/types"
)

// DefaultTimeout bounds a single API call
const DefaultTimeout = 60 * time.Second

// Client wraps the trainyard HTTP API for CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at addr. A bare host:port is
// treated as http.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// APIError is a non-2xx response. It unwraps to the matching sentinel in
// pkg/types so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code back onto the error taxonomy
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return types.ErrValidation
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusConflict:
		return types.ErrConflict
	default:
		return types.ErrInternal
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

// Users

// CreateUser creates a user
func (c *Client) CreateUser(ctx context.Context, req scheduler.CreateUserRequest) (*types.User, error) {
	var user types.User
	if err := c.doJSON(ctx, http.MethodPost, "/api/users", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers lists all users
func (c *Client) ListUsers(ctx context.Context) ([]*types.User, error) {
	var users []*types.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns a user by ID
func (c *Client) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Nodes

// CreateNode registers a GPU node
func (c *Client) CreateNode(ctx context.Context, req scheduler.CreateNodeRequest) (*types.Node, error) {
	var node types.Node
	if err := c.doJSON(ctx, http.MethodPost, "/api/nodes", req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// ListNodes lists nodes, restricted to ownerID when it is not empty
func (c *Client) ListNodes(ctx context.Context, ownerID string) ([]*scheduler.NodeDetail, error) {
	path := "/api/nodes"
	if ownerID != "" {
		path = "/api/nodes/owner/" + url.PathEscape(ownerID)
	}
	var nodes []*scheduler.NodeDetail
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode returns a node with its task summaries
func (c *Client) GetNode(ctx context.Context, id string) (*scheduler.NodeDetail, error) {
	var node scheduler.NodeDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/nodes/"+url.PathEscape(id), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// UpdateNode updates node metadata or status
func (c *Client) UpdateNode(ctx context.Context, id string, req scheduler.UpdateNodeRequest) (*types.Node, error) {
	var node types.Node
	if err := c.doJSON(ctx, http.MethodPatch, "/api/nodes/"+url.PathEscape(id), req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// DeleteNode deletes a node
func (c *Client) DeleteNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	if err := c.doJSON(ctx, http.MethodDelete, "/api/nodes/"+url.PathEscape(id), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Tasks

// SubmitRequest is a task submission with its two blobs
type SubmitRequest struct {
	Name              string
	ConsumerID        string
	EstimatedMemoryMb int64
	ModelDefinition   []byte
	Dataset           []byte
}

// SubmitTask uploads a training task
func (c *Client) SubmitTask(ctx context.Context, req SubmitRequest) (*types.Task, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	_ = mw.WriteField(api.FieldName, req.Name)
	_ = mw.WriteField(api.FieldConsumerID, req.ConsumerID)
	if req.EstimatedMemoryMb > 0 {
		_ = mw.WriteField(api.FieldEstimatedMemoryMb, strconv.FormatInt(req.EstimatedMemoryMb, 10))
	}
	files := []struct {
		field, filename string
		data            []byte
	}{
		{api.FieldDataset, "dataset.csv", req.Dataset},
		{api.FieldModelFile, "model.py", req.ModelDefinition},
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", f.field, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s part: %w", f.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", &buf, mw.FormDataContentType(), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks, restricted to consumerID when it is not empty
func (c *Client) ListTasks(ctx context.Context, consumerID string) ([]*types.Task, error) {
	path := "/api/tasks"
	if consumerID != "" {
		path += "?" + url.Values{api.FieldConsumerID: {consumerID}}.Encode()
	}
	var tasks []*types.Task
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask returns a task by ID
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskStatus moves a task to status
func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus) (*types.Task, error) {
	var task types.Task
	path := "/api/tasks/" + url.PathEscape(id) + "/status"
	if err := c.doJSON(ctx, http.MethodPatch, path, api.StatusRequest{Status: status}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ReassignTask moves a task to another node
func (c *Client) ReassignTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.doJSON(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/reassign", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask deletes a task
func (c *Client) DeleteTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.doJSON(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DownloadModel writes the trained model of a task to w
func (c *Client) DownloadModel(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id)+"/model", nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read model: %w", err)
	}
	return n, nil
}
