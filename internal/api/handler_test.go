package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/history"
)

type fakeBackend struct {
	last  mcpdesk.Request
	async map[string]mcpdesk.Response
}

func (f *fakeBackend) Handle(ctx context.Context, req mcpdesk.Request) mcpdesk.Response {
	f.last = req
	return mcpdesk.Response{RequestID: "r1", Query: req.Query, Status: mcpdesk.ResponseOK, Text: "done"}
}

func (f *fakeBackend) HandleAsync(ctx context.Context, req mcpdesk.Request) (string, error) {
	f.last = req
	f.async["a1"] = mcpdesk.Response{RequestID: "a1", Status: mcpdesk.ResponseOK, Text: "later"}
	return "a1", nil
}

func (f *fakeBackend) AsyncStatus(id string) (*mcpdesk.AsyncExecutionStatus, error) {
	if _, ok := f.async[id]; !ok {
		return nil, fmt.Errorf("execution with ID '%s' not found", id)
	}
	return &mcpdesk.AsyncExecutionStatus{ExecutionID: id, CurrentState: mcpdesk.StateComplete, IsComplete: true}, nil
}

func (f *fakeBackend) AsyncResult(id string) (mcpdesk.Response, error) {
	return f.async[id], nil
}

func (f *fakeBackend) CancelAsync(id string) (bool, error) {
	if _, ok := f.async[id]; !ok {
		return false, fmt.Errorf("not found")
	}
	return false, nil
}

func (f *fakeBackend) Tools() []mcpdesk.ToolDescriptor {
	return []mcpdesk.ToolDescriptor{{Name: "read_file", Risk: mcpdesk.RiskSafe}}
}

type fakeHistory struct{ session string }

func (f *fakeHistory) List(ctx context.Context, sessionID string, limit int) ([]history.Entry, error) {
	f.session = sessionID
	return []history.Entry{{RequestID: "r1", SessionID: sessionID, Query: "q"}}, nil
}

func newServer(t *testing.T, hist History) (*httptest.Server, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{async: map[string]mcpdesk.Response{}}
	srv := httptest.NewServer(NewHandler(Options{Requests: b, Executions: b, History: hist, ElevationToken: "secret"}))
	t.Cleanup(srv.Close)
	return srv, b
}

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) apiResponse {
	t.Helper()
	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestQuery(t *testing.T) {
	srv, b := newServer(t, nil)

	resp := post(t, srv.URL+"/v1/query", `{"query": "describe sales.csv", "session_id": "s1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "done", out.Data.(map[string]interface{})["text"])
	assert.Equal(t, "s1", b.last.SessionID)
	assert.False(t, b.last.Elevated)
}

func TestQuery_Elevation(t *testing.T) {
	srv, b := newServer(t, nil)

	resp := post(t, srv.URL+"/v1/query", `{"query": "delete a"}`, map[string]string{ElevationHeader: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, b.last.Elevated)

	resp = post(t, srv.URL+"/v1/query", `{"query": "delete a"}`, map[string]string{ElevationHeader: "guess"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestQuery_BadBodies(t *testing.T) {
	srv, _ := newServer(t, nil)

	for _, body := range []string{`not json`, `{"query": "  "}`, `{"query": "x", "elevated": true}`} {
		resp := post(t, srv.URL+"/v1/query", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAsyncLifecycle(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp := post(t, srv.URL+"/v1/query/async", `{"query": "later"}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/v1/query/a1", resp.Header.Get("Location"))

	got, err := http.Get(srv.URL + "/v1/query/a1")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	data := decode(t, got).Data.(map[string]interface{})
	assert.Equal(t, true, data["is_complete"])
	assert.Equal(t, "later", data["response"].(map[string]interface{})["text"])

	missing, err := http.Get(srv.URL + "/v1/query/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/query/a1", nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	assert.Equal(t, false, decode(t, del).Data.(map[string]interface{})["cancelled"])
}

func TestToolsAndHistory(t *testing.T) {
	hist := &fakeHistory{}
	srv, _ := newServer(t, hist)

	resp, err := http.Get(srv.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	tools := decode(t, resp).Data.([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].(map[string]interface{})["name"])

	resp, err = http.Get(srv.URL + "/v1/history?session_id=s7&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, decode(t, resp).Data.([]interface{}), 1)
	assert.Equal(t, "s7", hist.session)

	resp, err = http.Get(srv.URL + "/v1/history?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv2, _ := newServer(t, nil)
	resp, err = http.Get(srv2.URL + "/v1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
