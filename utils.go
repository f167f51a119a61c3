package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/contentsquare/counterd/log"
	"github.com/contentsquare/counterd/middleware"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("BUG: cannot marshal response %#v: %s", v, err))
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	rw.Write(b)
}

// respondWith writes err as the error response with the given status.
// Server-side errors are logged, while client ones go to debug only.
// The message of server-side errors isn't exposed to the client.
func respondWith(rw http.ResponseWriter, r *http.Request, err error, status int) {
	l := log.Request(middleware.GetRequestID(r.Context()))
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		l.Errorf("%s %s: %s", r.Method, r.URL.Path, err)
		msg = http.StatusText(status)
	} else {
		l.Debugf("%s %s: %d %s", r.Method, r.URL.Path, status, err)
	}
	writeJSON(rw, status, errorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    msg,
	})
}

func respondWithStatus(rw http.ResponseWriter, r *http.Request, status int) {
	respondWith(rw, r, errors.New(http.StatusText(status)), status)
}

// errPayloadTooLarge is returned by readBody if the body exceeds the limit
var errPayloadTooLarge = errors.New("Payload content length greater than maximum allowed")

func readBody(rw http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, fmt.Errorf("%w: %d", errPayloadTooLarge, limit)
		}
		return nil, fmt.Errorf("cannot read request body: %w", err)
	}
	return b, nil
}

// decodeObject parses a JSON object and rejects keys not listed in allowed.
func decodeObject(body []byte, allowed ...string) (map[string]json.RawMessage, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New(`"value" must be an object`)
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errors.New("Invalid request payload JSON format")
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, errors.New(`"value" must be an object`)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		panic(fmt.Sprintf("BUG: valid JSON object can't be decoded: %s", err))
	}
	var unknown []string
	for k := range m {
		if !contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%q is not allowed", unknown[0])
	}
	return m, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// routeLabel maps a path to a bounded set of metric labels.
func routeLabel(path string) string {
	switch path {
	case "/", "/ping", "/metrics", "/favicon.ico", "/counter", "/counter/increment", "/counter/decrement", "/kv":
		return path
	}
	if strings.HasPrefix(path, kvPathPrefix) {
		return kvPathPrefix + "{key}"
	}
	return "other"
}
