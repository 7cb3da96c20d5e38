package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/types"
)

// Form field names accepted by POST /api/tasks and the completion callback
const (
	FieldName              = "name"
	FieldConsumerID        = "consumerId"
	FieldEstimatedMemoryMb = "estimatedMemoryMb"
	FieldDataset           = "dataset"
	FieldModelFile         = "modelFile"
	FieldModel             = "model"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files
const multipartMemory = 32 << 20

// StatusRequest is the body of PATCH /api/tasks/{id}/status
type StatusRequest struct {
	Status types.TaskStatus `json:"status"`
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", types.ErrValidation, err)
	}
	return nil
}

// Users

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req scheduler.CreateUserRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.scheduler.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.scheduler.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.scheduler.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Nodes

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req scheduler.CreateNodeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	node, err := s.scheduler.CreateNode(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.scheduler.ListNodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) listNodesByOwner(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.scheduler.ListNodesByOwner(r.Context(), r.PathValue("ownerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.scheduler.GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	var req scheduler.UpdateNodeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	node, err := s.scheduler.UpdateNode(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.scheduler.RemoveNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// Tasks

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.ListTasks(r.Context(), r.URL.Query().Get(FieldConsumerID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, multipartError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := scheduler.SubmitRequest{
		Name:       r.FormValue(FieldName),
		ConsumerID: r.FormValue(FieldConsumerID),
	}
	if raw := strings.TrimSpace(r.FormValue(FieldEstimatedMemoryMb)); raw != "" {
		estimate, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %s must be an integer", types.ErrValidation, FieldEstimatedMemoryMb))
			return
		}
		req.EstimatedMemoryMb = estimate
	}

	var err error
	if req.Dataset, err = readFormFile(r, FieldDataset); err != nil {
		writeError(w, err)
		return
	}
	if req.ModelDefinition, err = readFormFile(r, FieldModelFile); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.scheduler.SubmitTask(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// taskFinished accepts the trained model either as the multipart file
// "model" or as the raw request body
func (s *Server) taskFinished(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	var (
		result []byte
		err    error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, multipartError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		result, err = readFormFile(r, FieldModel)
	} else {
		result, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result) == 0 {
		writeError(w, fmt.Errorf("%w: no model received", types.ErrValidation))
		return
	}

	task, err := s.scheduler.CompleteTask(r.Context(), r.PathValue("id"), result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.scheduler.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) reassignTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.Reassign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.RemoveTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getTaskModel(w http.ResponseWriter, r *http.Request) {
	task, model, err := s.scheduler.TaskResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.Name+".pth"))
	w.Header().Set("Content-Length", strconv.Itoa(len(model)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(model)
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: missing file %q", types.ErrValidation, field)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", field, err)
	}
	return data, nil
}

func multipartError(err error) error {
	if statusFor(err) == http.StatusRequestEntityTooLarge {
		return err
	}
	return fmt.Errorf("%w: invalid multipart body: %v", types.ErrValidation, err)
}
