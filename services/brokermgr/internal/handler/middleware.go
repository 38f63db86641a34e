package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/api"
)

// ErrorHandlingMiddleware turns a panic in next into a JSON error response.
func ErrorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		startMs := kcommon.GetMonoTimeMs()
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			elapsedMs := kcommon.GetMonoTimeMs() - startMs
			logger := klogging.Warning(r.Context()).With("elapsedMs", elapsedMs).With("path", r.URL.Path)

			var ke *kerror.Kerror
			switch v := err.(type) {
			case *kerror.Kerror:
				ke = v
			case error:
				ke = kerror.Create("InternalServerError", "an unexpected error occurred").
					WithErrorCode(kerror.EC_UNKNOWN).
					With("cause", v.Error())
			default:
				ke = kerror.Create("UnknownPanic", "unexpected panic with non-error value").
					WithErrorCode(kerror.EC_UNKNOWN).
					With("panic_value", v)
			}
			logger.WithError(ke).Log("RequestFailed", ke.Type)

			w.WriteHeader(ke.ErrorCode.ToHttpErrorCode())
			json.NewEncoder(w).Encode(&api.ErrorResponse{
				ErrorType: ke.Type,
				Message:   ke.Msg,
				Code:      string(ke.ErrorCode),
			})
		}()

		next.ServeHTTP(w, r)
	})
}
