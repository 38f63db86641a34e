package kerror

import "net/http"

type ErrorCode string

var (
	httpErrorCodeMap = createMapHttpErrorCode()
)

const (
	EC_OK                ErrorCode = "OK"
	EC_UNKNOWN           ErrorCode = "UNKNOWN"
	EC_NOT_FOUND         ErrorCode = "NOT_FOUND"
	EC_INVALID_PARAMETER ErrorCode = "INVALID_PARAMETER"
	EC_CONFLICT          ErrorCode = "CONFLICT"
	EC_INTERNAL_ERROR    ErrorCode = "INTERNAL_ERROR"
	EC_UNIMPLEMENTED     ErrorCode = "UNIMPLEMENTED"
	EC_TIMEOUT           ErrorCode = "TIMEOUT"
	EC_NETWORK_ERR       ErrorCode = "NETWORK_ERR"
	EC_RETRYABLE         ErrorCode = "RETRYABLE"
)

func (code ErrorCode) String() string {
	return string(code)
}

func (code ErrorCode) ToHttpErrorCode() int {
	httpCode, ok := httpErrorCodeMap[code]
	if ok {
		return httpCode
	}
	return http.StatusServiceUnavailable
}

func createMapHttpErrorCode() map[ErrorCode]int {
	return map[ErrorCode]int{
		EC_OK:                http.StatusOK,
		EC_UNKNOWN:           http.StatusInternalServerError,
		EC_NOT_FOUND:         http.StatusNotFound,
		EC_INVALID_PARAMETER: http.StatusBadRequest,
		EC_CONFLICT:          http.StatusConflict,
		EC_INTERNAL_ERROR:    http.StatusServiceUnavailable,
		EC_UNIMPLEMENTED:     http.StatusNotImplemented,
		EC_TIMEOUT:           http.StatusRequestTimeout,
		EC_NETWORK_ERR:       http.StatusGatewayTimeout,
		EC_RETRYABLE:         http.StatusTooManyRequests,
	}
}
