package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
)

// MaxBodyBytes bounds every JSON request body
const MaxBodyBytes = 1 << 20

// ErrInvalidJSON is returned for bodies that do not decode
var ErrInvalidJSON = apperrors.Validation("Invalid JSON body")

// DecodeJSON decodes the request body into dest. An empty body leaves dest
// untouched so handlers can report their own missing-field errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return nil
	}
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return ErrInvalidJSON.WithDetail(err.Error())
	}
	return nil
}

// PathVar returns a path parameter, or "" when the route has none by that name
func PathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// QueryInt parses an integer query parameter with a default
func QueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("Invalid integer for query parameter %s", key))
	}
	return val, nil
}

// QueryBool parses a boolean query parameter with a default
func QueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, apperrors.Validation(fmt.Sprintf("Invalid boolean for query parameter %s", key))
	}
	return val, nil
}
