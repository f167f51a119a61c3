package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// statResponseWriter collects the amount of bytes written.
//
// Additionally it caches response status code.
type statResponseWriter struct {
	http.ResponseWriter

	statusCode   int
	bytesWritten prometheus.Counter
}

func (rw *statResponseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten.Add(float64(n))
	return n, err
}

func (rw *statResponseWriter) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

// StatusCode returns the status sent to the client.
// Handlers that never write get the implicit 200.
func (rw *statResponseWriter) StatusCode() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

// instrument records status codes, durations and body sizes per route.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		srw := &statResponseWriter{
			ResponseWriter: w,
			bytesWritten:   responseBodyBytes.WithLabelValues(route),
		}
		startTime := time.Now()
		next.ServeHTTP(srw, r)
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
		statusCodes.WithLabelValues(route, strconv.Itoa(srw.StatusCode())).Inc()
	})
}
