package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes {"error": message}
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteMessage writes {"message": message} with status
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"message": message})
}

// ErrorBody is the JSON shape of every failure response. Fields from the
// application error are merged in at the top level.
func ErrorBody(appErr *apperrors.Error) map[string]interface{} {
	body := make(map[string]interface{}, len(appErr.Fields)+2)
	for k, v := range appErr.Fields {
		body[k] = v
	}
	body["error"] = appErr.Message
	if appErr.Detail != "" {
		body["message"] = appErr.Detail
	}
	return body
}

var internalError = apperrors.Dependency("Internal server error", nil).WithDetail("Please try again later")

// WriteAppError maps err to its status and writes the JSON body.
//
// Application errors show their Message and Detail. Dependency errors without
// a Detail, and any error outside the taxonomy, are logged in full and
// answered with a generic 500 so internal text never leaks.
func WriteAppError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	log := observability.FromContextOr(r.Context(), logger).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})

	appErr, ok := apperrors.As(err)
	switch {
	case !ok:
		log.WithError(err).Error("Unhandled error")
		appErr = internalError
	case appErr.Kind == apperrors.KindDependency:
		log.WithError(err).Error(appErr.Message)
		if appErr.Detail == "" {
			appErr = internalError
		}
	}
	WriteJSON(w, appErr.Status(), ErrorBody(appErr))
}
