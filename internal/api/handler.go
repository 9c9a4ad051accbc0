// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/history"
)

// ElevationHeader carries the token that marks a request as elevated.
const ElevationHeader = "X-Elevation-Token"

const maxBodyBytes = 1 << 20

// Requests runs queries.
type Requests interface {
	Handle(ctx context.Context, req mcpdesk.Request) mcpdesk.Response
	HandleAsync(ctx context.Context, req mcpdesk.Request) (string, error)
}

// Executions tracks async queries and lists tools.
type Executions interface {
	AsyncStatus(id string) (*mcpdesk.AsyncExecutionStatus, error)
	AsyncResult(id string) (mcpdesk.Response, error)
	CancelAsync(id string) (bool, error)
	Tools() []mcpdesk.ToolDescriptor
}

// History lists recorded requests.
type History interface {
	List(ctx context.Context, sessionID string, limit int) ([]history.Entry, error)
}

// Options configures the handler. History may be nil.
type Options struct {
	Requests       Requests
	Executions     Executions
	History        History
	ElevationToken string
}

type apiResponse struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type queryRequest struct {
	Query     string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	History   []mcpdesk.Turn `json:"history,omitempty"`
}

type asyncView struct {
	*mcpdesk.AsyncExecutionStatus
	Response *mcpdesk.Response `json:"response,omitempty"`
}

type handler struct {
	opts Options
}

// NewHandler returns the HTTP API.
func NewHandler(opts Options) http.Handler {
	h := &handler{opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /v1/query", h.query)
	mux.HandleFunc("POST /v1/query/async", h.queryAsync)
	mux.HandleFunc("GET /v1/query/{id}", h.status)
	mux.HandleFunc("DELETE /v1/query/{id}", h.cancel)
	mux.HandleFunc("GET /v1/tools", h.tools)
	mux.HandleFunc("GET /v1/history", h.history)
	return logRequests(mux)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok"})
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	resp := h.opts.Requests.Handle(r.Context(), req)
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: resp})
}

func (h *handler) queryAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	id, err := h.opts.Requests.HandleAsync(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Location", "/v1/query/"+id)
	writeJSON(w, http.StatusAccepted, apiResponse{Status: "ok", Data: map[string]string{"id": id}})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.opts.Executions.AsyncStatus(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	view := asyncView{AsyncExecutionStatus: st}
	if st.IsComplete {
		if resp, err := h.opts.Executions.AsyncResult(id); err == nil {
			view.Response = &resp
		}
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: view})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.opts.Executions.CancelAsync(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]bool{"cancelled": cancelled}})
}

func (h *handler) tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: h.opts.Executions.Tools()})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.opts.History.List(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: entries})
}

// decode reads a query body and applies the elevation header. A header
// that does not match the configured token is refused.
func (h *handler) decode(w http.ResponseWriter, r *http.Request) (mcpdesk.Request, bool) {
	var body queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return mcpdesk.Request{}, false
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is empty")
		return mcpdesk.Request{}, false
	}

	elevated := false
	if token := r.Header.Get(ElevationHeader); token != "" {
		if h.opts.ElevationToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.ElevationToken)) != 1 {
			writeError(w, http.StatusForbidden, "invalid elevation token")
			return mcpdesk.Request{}, false
		}
		elevated = true
	}
	return mcpdesk.Request{
		SessionID: body.SessionID,
		Query:     body.Query,
		History:   body.History,
		Elevated:  elevated,
	}, true
}

func statusFor(err error) int {
	if mcpdesk.HasCode(err, mcpdesk.ErrCodeInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Status: "ERROR", Message: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("HTTP %s %s (status: %d, duration: %v)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
