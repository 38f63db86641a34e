package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/api"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/biz"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

type Handler struct {
	app *biz.App
}

func NewHandler(app *biz.App) *Handler {
	return &Handler{app: app}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/ping", ErrorHandlingMiddleware(http.HandlerFunc(h.PingHandler)))
	mux.Handle("/api/get_status", ErrorHandlingMiddleware(http.HandlerFunc(h.GetStatusHandler)))
	mux.Handle("/api/get_broker", ErrorHandlingMiddleware(http.HandlerFunc(h.GetBrokerHandler)))
	mux.Handle("/api/get_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.GetWorkerHandler)))
	mux.Handle("/api/register_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.RegisterWorkerHandler)))
	mux.Handle("/api/prerequest", ErrorHandlingMiddleware(http.HandlerFunc(h.PrerequestHandler)))
	mux.Handle("/api/redundant_times", ErrorHandlingMiddleware(http.HandlerFunc(h.RedundantTimesHandler)))
}

func requireMethod(r *http.Request, method string) {
	if r.Method != method {
		panic(kerror.Create("MethodNotAllowed", "only "+method+" method is allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).
			With("method", r.Method))
	}
}

func decodeRequest(r *http.Request, req interface{}) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		panic(kerror.Wrap(err, "InvalidRequestBody", "failed to decode request body", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
}

// brokerQuery reads the function and inspector query params that name a broker.
func brokerQuery(r *http.Request) (functionName string, inspector bool) {
	query := r.URL.Query()
	functionName = query.Get("function")
	if functionName == "" {
		panic(kerror.Create("InvalidParameter", "function is required").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	if str := query.Get("inspector"); str != "" {
		val, err := strconv.ParseBool(str)
		if err != nil {
			panic(kerror.Wrap(err, "InvalidParameter", "inspector must be a bool", false).WithErrorCode(kerror.EC_INVALID_PARAMETER))
		}
		inspector = val
	}
	return functionName, inspector
}

func writeResponse(w http.ResponseWriter, resp interface{}) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(kerror.Create("EncodingError", "failed to encode response").
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("error", err.Error()))
	}
}

// PingHandler handles GET /api/ping
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var resp string
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.Ping", func() {
		resp = h.app.Ping(r.Context())
	}, "")
	klogging.Verbose(r.Context()).With("version", resp).Log("PingResponse", "")
	writeResponse(w, resp)
}

// GetStatusHandler handles GET /api/get_status?status=ready (status is optional)
func (h *Handler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var filter *data.WorkerStatus
	if str := r.URL.Query().Get("status"); str != "" {
		status := data.ParseWorkerStatus(str)
		filter = &status
	}
	var resp *api.GetStatusResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.GetStatus", func() {
		resp = h.app.GetStatus(r.Context(), filter)
	}, "")
	klogging.Verbose(r.Context()).With("brokers", len(resp.Brokers)).Log("GetStatusResponse", "")
	writeResponse(w, resp)
}

// GetBrokerHandler handles GET /api/get_broker?function=xxx&inspector=true
func (h *Handler) GetBrokerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	functionName, inspector := brokerQuery(r)
	var resp *api.GetBrokerResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.GetBroker", func() {
		resp = h.app.GetBroker(r.Context(), functionName, inspector)
	}, "")
	writeResponse(w, resp)
}

// GetWorkerHandler handles GET /api/get_worker?function=xxx&inspector=true&name=yyy
func (h *Handler) GetWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	functionName, inspector := brokerQuery(r)
	workerName := r.URL.Query().Get("name")
	var resp *api.GetWorkerResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.GetWorker", func() {
		resp = h.app.GetWorker(r.Context(), functionName, inspector, workerName)
	}, "")
	writeResponse(w, resp)
}

// RegisterWorkerHandler handles POST /api/register_worker
func (h *Handler) RegisterWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	req := &api.RegisterWorkerRequest{}
	decodeRequest(r, req)
	var resp *api.RegisterWorkerResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.RegisterWorker", func() {
		resp = h.app.RegisterWorker(r.Context(), req)
	}, "")
	writeResponse(w, resp)
}

// PrerequestHandler handles POST /api/prerequest
func (h *Handler) PrerequestHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	req := &api.PrerequestRequest{}
	decodeRequest(r, req)
	var resp *api.PrerequestResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.Prerequest", func() {
		resp = h.app.Prerequest(r.Context(), req)
	}, "")
	writeResponse(w, resp)
}

// RedundantTimesHandler handles POST /api/redundant_times
func (h *Handler) RedundantTimesHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	req := &api.RedundantTimesRequest{}
	decodeRequest(r, req)
	var resp *api.RedundantTimesResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.SetRedundantTimes", func() {
		resp = h.app.SetRedundantTimes(r.Context(), req)
	}, "")
	klogging.Info(r.Context()).With("function", req.FunctionName).With("inspector", req.Inspector).With("redundantTimes", resp.RedundantTimes).Log("RedundantTimesSet", "")
	writeResponse(w, resp)
}
