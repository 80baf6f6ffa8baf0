package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
	Kind  string `json:"kind,omitempty" example:"not_found"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports dependency health
// @Description Readiness with per-dependency status
type ReadyResponse struct {
	Status string             `json:"status" example:"ready"`
	Checks map[string]string  `json:"checks"`
	Queue  *domain.QueueStats `json:"queue,omitempty"`
}

// EnqueueRequest asks for background processing of many documents
// @Description Batch processing request
type EnqueueRequest struct {
	DocumentIDs []string              `json:"document_ids" validate:"required,min=1,max=500,dive,required"`
	Provider    string                `json:"provider,omitempty"`
	Mode        domain.ProcessingMode `json:"mode,omitempty" validate:"omitempty,oneof=fast full incremental"`
}

// EnqueueResponse lists the jobs created for a batch
// @Description Jobs enqueued for background processing
type EnqueueResponse struct {
	BatchID string                  `json:"batch_id,omitempty"`
	Jobs    []*domain.ProcessingJob `json:"jobs"`
}

// FieldEditRequest is the body of a record field edit
// @Description Manual edit of one record field
type FieldEditRequest struct {
	FieldName string  `json:"field_name"`
	Value     *string `json:"value"`
	EditedBy  string  `json:"edited_by"`
	Reason    string  `json:"reason,omitempty"`
}

// RollbackRequest is the body of a version rollback
// @Description Rollback of one recorded change
type RollbackRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

const maxBodyBytes = 1 << 20

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database, queue and cache connections
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks)+1)}
	status := http.StatusOK

	check := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			return
		}
		resp.Checks[name] = "ok"
	}
	for name, p := range s.checks {
		check(name, p)
	}
	if s.queue != nil {
		check("queue", s.queue)
		if stats, err := s.queue.Stats(ctx); err == nil {
			resp.Queue = stats
		}
	}

	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Document endpoints

// handleProcessDocument godoc
// @Summary      Process a document
// @Description  Runs the enrichment pipeline synchronously. With async=true the document is enqueued instead.
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true   "Document ID"
// @Param        async    query     bool                      false  "Enqueue instead of waiting"
// @Param        request  body      domain.ProcessingOptions  false  "Provider and mode"
// @Success      200      {object}  domain.ProcessingResult
// @Success      202      {object}  EnqueueResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      502      {object}  ErrorResponse  "Provider failure"
// @Failure      503      {object}  ErrorResponse  "No provider configured"
// @Router       /documents/{id}/process [post]
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var opts domain.ProcessingOptions
	if !decodeOptionalBody(w, r, &opts) {
		return
	}
	if err := domain.Validate(opts); err != nil {
		writeServiceError(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		jobs, err := s.documents.EnqueueProcessing(r.Context(), []string{id}, opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, EnqueueResponse{Jobs: jobs})
		return
	}

	result, err := s.pipeline.Process(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEnqueueDocuments godoc
// @Summary      Enqueue documents
// @Description  Creates one tracked job per document. Either all jobs are enqueued or none.
// @Tags         Documents
// @Accept       json
// @Produce      json
// @Param        request  body      EnqueueRequest  true  "Documents to process"
// @Success      202      {object}  EnqueueResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse  "Unknown document"
// @Router       /documents/process [post]
func (s *Server) handleEnqueueDocuments(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.Validate(req); err != nil {
		writeServiceError(w, err)
		return
	}

	jobs, err := s.documents.EnqueueProcessing(r.Context(), req.DocumentIDs, domain.ProcessingOptions{
		Provider: req.Provider,
		Mode:     req.Mode,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := EnqueueResponse{Jobs: jobs}
	if len(jobs) > 0 {
		resp.BatchID = jobs[0].BatchID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleGetDocument godoc
// @Summary      Get document
// @Description  Returns the document with its processing state
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.Document
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument godoc
// @Summary      Delete document
// @Description  Removes the document with its vector entries, timeline events and stored file
// @Tags         Documents
// @Param        id   path  string  true  "Document ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{id} [delete]
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Record endpoints

// handleUpdateRecordField godoc
// @Summary      Edit a record field
// @Description  Sets one field, recording a version and manual provenance. An unchanged value is a no-op.
// @Tags         Records
// @Accept       json
// @Produce      json
// @Param        type     path      string            true  "Record type"
// @Param        id       path      string            true  "Record ID"
// @Param        request  body      FieldEditRequest  true  "Edit"
// @Success      200      {object}  driving.EditResult
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse  "Concurrent update"
// @Router       /records/{type}/{id} [patch]
func (s *Server) handleUpdateRecordField(w http.ResponseWriter, r *http.Request) {
	recordType, ok := pathRecordType(w, r)
	if !ok {
		return
	}

	var req FieldEditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.editor.UpdateField(r.Context(), driving.FieldEdit{
		RecordType: recordType,
		RecordID:   r.PathValue("id"),
		FieldName:  req.FieldName,
		Value:      req.Value,
		EditedBy:   req.EditedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteRecord godoc
// @Summary      Delete a record
// @Description  Removes a clinical record and purges its version history
// @Tags         Records
// @Param        type  path  string  true  "Record type"
// @Param        id    path  string  true  "Record ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /records/{type}/{id} [delete]
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	recordType, ok := pathRecordType(w, r)
	if !ok {
		return
	}
	if err := s.editor.DeleteRecord(r.Context(), recordType, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecordHistory godoc
// @Summary      Record history
// @Description  Versions recorded for a record, newest first
// @Tags         Versions
// @Produce      json
// @Param        type   path      string  true   "Record type"
// @Param        id     path      string  true   "Record ID"
// @Param        field  query     string  false  "Restrict to one field"
// @Success      200    {array}   domain.VersionRecord
// @Failure      400    {object}  ErrorResponse
// @Router       /records/{type}/{id}/history [get]
func (s *Server) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	recordType, ok := pathRecordType(w, r)
	if !ok {
		return
	}

	versions, err := s.versions.History(r.Context(), recordType, r.PathValue("id"), r.URL.Query().Get("field"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if versions == nil {
		versions = []*domain.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// handlePatientHistory godoc
// @Summary      Patient history
// @Description  Versions across all record types for a patient, newest first
// @Tags         Versions
// @Produce      json
// @Param        id     path      string  true   "Patient ID"
// @Param        limit  query     int     false  "Maximum versions (default 100)"
// @Success      200    {array}   domain.VersionRecord
// @Failure      400    {object}  ErrorResponse
// @Router       /patients/{id}/history [get]
func (s *Server) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	versions, err := s.versions.PatientHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if versions == nil {
		versions = []*domain.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// handleRollback godoc
// @Summary      Roll back a change
// @Description  Reverts the single change recorded by a version. The rollback is itself recorded.
// @Tags         Versions
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Version ID"
// @Param        request  body      RollbackRequest  true  "Actor and reason"
// @Success      200      {object}  domain.VersionRecord
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /versions/{id}/rollback [post]
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.Validate(req); err != nil {
		writeServiceError(w, err)
		return
	}

	version, err := s.versions.UndoLastEdit(r.Context(), r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// Helpers

func pathRecordType(w http.ResponseWriter, r *http.Request) (domain.RecordType, bool) {
	recordType := domain.RecordType(r.PathValue("type"))
	if !recordType.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown record type")
		return "", false
	}
	return recordType, true
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// decodeOptionalBody accepts an empty body and writes 400 on malformed JSON.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := decodeBody(r, v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOverwriteBlocked), errors.Is(err, domain.ErrJobLocked):
		return http.StatusConflict
	}
	switch domain.ErrorKind(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	case "configuration":
		return http.StatusServiceUnavailable
	case "upstream", "parse", "storage":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: domain.ErrorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
