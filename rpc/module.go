package rpc

import (
	"errors"
	"net/http"
	"strings"

	"cdpengine/native/cdp"
	nativecommon "cdpengine/native/common"
)

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeThrottled     = -32002
	codePaused        = -32003
)

// ModuleError carries both the JSON-RPC error code and the HTTP status that
// should be written for a failed module call.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(message string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message}
}

func moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "cdp module not available"}
}

// wrapEngineError translates engine sentinel errors into the module envelope.
// Caller mistakes map to 400, authorisation failures to 403, pauses to 503,
// and anything unrecognised to 500.
func wrapEngineError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	message := err.Error()
	switch {
	case errors.Is(err, cdp.ErrNotAdmin):
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: message}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codePaused, Message: message}
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaVolumeExceeded):
		return &ModuleError{HTTPStatus: http.StatusTooManyRequests, Code: codeThrottled, Message: message}
	case strings.HasPrefix(message, "cdp engine:"):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message}
	}
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: message}
}
