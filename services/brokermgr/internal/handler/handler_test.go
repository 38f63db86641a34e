package handler

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
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/api"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/biz"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/dataplane"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
)

func TestErrorHandlingMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		expectedCode int
		expectedType string
	}{
		{
			name: "kerror",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(kerror.Create("TestError", "test error message").WithErrorCode(kerror.EC_INVALID_PARAMETER))
			},
			expectedCode: http.StatusBadRequest,
			expectedType: "TestError",
		},
		{
			name: "plain error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(fmt.Errorf("some error"))
			},
			expectedCode: http.StatusInternalServerError,
			expectedType: "InternalServerError",
		},
		{
			name: "string panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("some panic message")
			},
			expectedCode: http.StatusInternalServerError,
			expectedType: "UnknownPanic",
		},
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rr := httptest.NewRecorder()
			ErrorHandlingMiddleware(tt.handler).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tt.expectedType != "" {
				var resp api.ErrorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, tt.expectedType, resp.ErrorType)
			}
		})
	}
}

func newTestMux(t *testing.T) *http.ServeMux {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	profiles := profile.NewStaticProfileProvider(&profile.FunctionProfile{
		Name:   "f",
		Worker: profile.WorkerProfile{MaxActivateRequests: 1},
	})
	app := biz.NewApp(ctx, profiles, config.NewStaticConfigProvider(nil), dataplane.NewFakeDataPlane())
	mux := http.NewServeMux()
	NewHandler(app).RegisterRoutes(mux)
	return mux
}

func doRequest(mux *http.ServeMux, method string, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestPingHandler(t *testing.T) {
	mux := newTestMux(t)
	rr := doRequest(mux, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	var resp string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp, "brokermgr:"))

	rr = doRequest(mux, http.MethodPost, "/api/ping", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegisterAndQuery(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(mux, http.MethodPost, "/api/register_worker", `{"function_name":"f","process_name":"w1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var reg api.RegisterWorkerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reg))
	assert.Equal(t, "w1", reg.Worker.Name)

	rr = doRequest(mux, http.MethodGet, "/api/get_status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status api.GetStatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	require.Equal(t, 1, len(status.Brokers))
	assert.Equal(t, "f", status.Brokers[0].Name)
	assert.Equal(t, 1, len(status.Brokers[0].Workers))

	rr = doRequest(mux, http.MethodGet, "/api/get_status?status=ready", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status = api.GetStatusResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	require.Equal(t, 1, len(status.Brokers))
	assert.Equal(t, 0, len(status.Brokers[0].Workers))

	rr = doRequest(mux, http.MethodGet, "/api/get_status?status=Created", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status = api.GetStatusResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, 1, len(status.Brokers[0].Workers))

	rr = doRequest(mux, http.MethodGet, "/api/get_worker?function=f&name=w1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var worker api.GetWorkerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&worker))
	assert.Equal(t, "w1", worker.Worker.Name)
	assert.Equal(t, reg.Worker.Credential, worker.Worker.Credential)

	rr = doRequest(mux, http.MethodGet, "/api/get_broker?function=f", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var broker api.GetBrokerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&broker))
	assert.Nil(t, broker.WaterLevel)
	assert.Equal(t, int32(1), broker.StartingPoolSize)

	rr = doRequest(mux, http.MethodPost, "/api/prerequest", `{"function_name":"f"}`)
	var pre api.PrerequestResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pre))
	assert.True(t, pre.Admitted)
	rr = doRequest(mux, http.MethodPost, "/api/prerequest", `{"function_name":"f"}`)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pre))
	assert.False(t, pre.Admitted)

	rr = doRequest(mux, http.MethodPost, "/api/redundant_times", `{"function_name":"f","redundant_times":3}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var rt api.RedundantTimesResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rt))
	assert.Equal(t, int32(3), rt.RedundantTimes)
}

func TestHandlerErrors(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"unknown function", http.MethodPost, "/api/register_worker", `{"function_name":"nope","process_name":"w1"}`, http.StatusNotFound},
		{"bad body", http.MethodPost, "/api/register_worker", `{`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/register_worker", "", http.StatusBadRequest},
		{"missing function", http.MethodGet, "/api/get_broker", "", http.StatusBadRequest},
		{"bad inspector", http.MethodGet, "/api/get_broker?function=f&inspector=maybe", "", http.StatusBadRequest},
		{"no broker", http.MethodGet, "/api/get_broker?function=f", "", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/get_status?status=booting", "", http.StatusBadRequest},
		{"get worker no broker", http.MethodGet, "/api/get_worker?function=f&name=w1", "", http.StatusNotFound},
		{"get worker missing name", http.MethodGet, "/api/get_worker?function=f", "", http.StatusBadRequest},
		{"get worker missing function", http.MethodGet, "/api/get_worker?name=w1", "", http.StatusBadRequest},
		{"redundant times no broker", http.MethodPost, "/api/redundant_times", `{"function_name":"f","redundant_times":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(mux, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rr.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.NotEmpty(t, resp.ErrorType)
		})
	}
}
