package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// ParseJSON decodes JSON from the request body into the destination.
// Decoding failures are reported as InvalidInput on the "body" field.
func ParseJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.InvalidInput("body", "must be a valid JSON object")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, r, err)
		return false
	}
	return true
}

// PathString returns a mux path variable
func PathString(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := strings.TrimSpace(r.URL.Query().Get(key))
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperr.InvalidQuery(key, "must be an integer")
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := strings.TrimSpace(r.URL.Query().Get(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryDate parses an ISO-8601 date or timestamp query parameter.
// A bare date (2024-05-01) used as an upper bound is extended to the last
// instant of that day so that date ranges are inclusive on both ends.
func ParseQueryDate(r *http.Request, key string, upperBound bool) (*time.Time, error) {
	str := strings.TrimSpace(r.URL.Query().Get(key))
	if str == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
		t = t.UTC()
		return &t, nil
	}

	day, err := time.Parse("2006-01-02", str)
	if err != nil {
		return nil, apperr.InvalidQuery(key, "must be an ISO-8601 date or timestamp")
	}
	if upperBound {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
