package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/contentsquare/counterd/config"
	"github.com/contentsquare/counterd/internal/counter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func mustNetworks(t *testing.T, cidrs ...string) config.Networks {
	t.Helper()
	var n config.Networks
	b, err := yaml.Marshal(cidrs)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(b, &n))
	return n
}

func httptestRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

func serveRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func getCounterValue(t *testing.T, a *app) int {
	t.Helper()
	rw := do(a, http.MethodGet, "/counter", "")
	require.Equal(t, http.StatusOK, rw.Code)
	var resp counterResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	return resp.Counter
}

func setCounterValue(t *testing.T, a *app, n int) {
	t.Helper()
	rw := do(a, http.MethodPost, "/counter", fmt.Sprintf(`{"counter":%d}`, n))
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
}

func TestRootForbidden(t *testing.T) {
	a := newTestApp(t)
	rw := do(a, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusForbidden, rw.Code)
	assert.JSONEq(t, `{"statusCode":403,"error":"Forbidden","message":"Forbidden"}`, rw.Body.String())
}

func TestGetCounter(t *testing.T) {
	a := newTestApp(t)

	rw := do(a, http.MethodGet, "/counter", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"counter":0}`, rw.Body.String())

	testCases := []struct {
		target  string
		message string
	}{
		{"/counter?foo=1", `"foo" is not allowed`},
		{"/counter?b=1&a=2", `"a" is not allowed`},
		{"/counter?counter", `"counter" is not allowed`},
		{"/counter?%zz", "query parameters are not allowed"},
	}
	for _, tc := range testCases {
		t.Run(tc.target, func(t *testing.T) {
			rw := do(a, http.MethodGet, tc.target, "")
			assert.Equal(t, http.StatusBadRequest, rw.Code)
			assert.Equal(t, tc.message, decodeError(t, rw).Message)
		})
	}

	// a lone `?` carries no parameters
	assert.Equal(t, http.StatusOK, do(a, http.MethodGet, "/counter?", "").Code)
}

func TestSetCounter(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected int
	}{
		{"zero", `{"counter":0}`, 0},
		{"middle", `{"counter":50}`, 50},
		{"max", `{"counter":1000}`, 1000},
		{"numeric string", `{"counter":"42"}`, 42},
		{"numeric string with spaces", `{"counter":" 7 "}`, 7},
		{"integral float", `{"counter":50.0}`, 50},
		{"exponent", `{"counter":1e3}`, 1000},
		{"negative zero", `{"counter":-0}`, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp(t)
			rw := do(a, http.MethodPost, "/counter", tc.body)
			assert.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
			assert.JSONEq(t, fmt.Sprintf(`{"counter":%d}`, tc.expected), rw.Body.String())
			assert.Equal(t, tc.expected, getCounterValue(t, a))
		})
	}
}

func TestSetCounterInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		message string
	}{
		{"below range", `{"counter":-1}`, `"counter" must be larger than or equal to 0`},
		{"above range", `{"counter":1001}`, `"counter" must be less than or equal to 1000`},
		{"huge", `{"counter":1e400}`, `"counter" must be less than or equal to 1000`},
		{"huge negative", `{"counter":-99999999999999999999999}`, `"counter" must be larger than or equal to 0`},
		{"fraction", `{"counter":50.5}`, `"counter" must be an integer`},
		{"fraction string", `{"counter":"0.5"}`, `"counter" must be an integer`},
		{"string above range", `{"counter":"1001"}`, `"counter" must be less than or equal to 1000`},
		{"word", `{"counter":"abc"}`, `"counter" must be a number`},
		{"empty string", `{"counter":""}`, `"counter" must be a number`},
		{"NaN string", `{"counter":"NaN"}`, `"counter" must be a number`},
		{"Infinity string", `{"counter":"Infinity"}`, `"counter" must be a number`},
		{"null", `{"counter":null}`, `"counter" must be a number`},
		{"bool", `{"counter":true}`, `"counter" must be a number`},
		{"array", `{"counter":[1]}`, `"counter" must be a number`},
		{"object", `{"counter":{"v":1}}`, `"counter" must be a number`},
		{"missing", `{}`, `"counter" is required`},
		{"unknown key", `{"counter":1,"extra":2}`, `"extra" is not allowed`},
		{"not an object", `[{"counter":1}]`, `"value" must be an object`},
		{"empty body", ``, `"value" must be an object`},
		{"malformed", `{"counter":`, "Invalid request payload JSON format"},
		{"trailing data", `{"counter":1} {}`, "Invalid request payload JSON format"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp(t)
			setCounterValue(t, a, 10)

			rw := do(a, http.MethodPost, "/counter", tc.body)
			assert.Equal(t, http.StatusBadRequest, rw.Code)
			assert.Equal(t, tc.message, decodeError(t, rw).Message)
			assert.Equal(t, 10, getCounterValue(t, a), "failed set must not change the counter")
		})
	}
}

func TestSetCounterTooLarge(t *testing.T) {
	a := newTestApp(t)
	body := `{"counter":1` + strings.Repeat(" ", counterBodyLimit) + `}`
	rw := do(a, http.MethodPost, "/counter", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rw.Code)
	assert.Equal(t, 0, getCounterValue(t, a))
}

func TestSetCounterWholeRange(t *testing.T) {
	a := newTestApp(t)
	for n := counter.Min; n <= counter.Max; n++ {
		setCounterValue(t, a, n)
		if v := getCounterValue(t, a); v != n {
			t.Fatalf("unexpected counter after set %d: %d", n, v)
		}
	}
}

func TestIncrementDecrement(t *testing.T) {
	a := newTestApp(t)
	setCounterValue(t, a, 50)

	rw := do(a, http.MethodPut, "/counter/increment", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"counter":51}`, rw.Body.String())

	rw = do(a, http.MethodPut, "/counter/decrement", "")
	assert.JSONEq(t, `{"counter":50}`, rw.Body.String())
	rw = do(a, http.MethodPut, "/counter/decrement", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.JSONEq(t, `{"counter":49}`, rw.Body.String())
	assert.Equal(t, 49, getCounterValue(t, a))
}

func TestIncrementAtMax(t *testing.T) {
	a := newTestApp(t)
	setCounterValue(t, a, counter.Max)

	rw := do(a, http.MethodPut, "/counter/increment", "")
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, "counter must be below 1000", decodeError(t, rw).Message)
	assert.Equal(t, counter.Max, getCounterValue(t, a))

	// the counter is still usable after a rejected increment
	rw = do(a, http.MethodPut, "/counter/decrement", "")
	assert.JSONEq(t, `{"counter":999}`, rw.Body.String())
}

func TestDecrementAtMin(t *testing.T) {
	a := newTestApp(t)

	rw := do(a, http.MethodPut, "/counter/decrement", "")
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, "counter must be greater than or equal to 0", decodeError(t, rw).Message)
	assert.Equal(t, 0, getCounterValue(t, a))

	rw = do(a, http.MethodPut, "/counter/increment", "")
	assert.JSONEq(t, `{"counter":1}`, rw.Body.String())
}

func TestSequentialIncrements(t *testing.T) {
	a := newTestApp(t)
	for k := 1; k < counter.Max; k++ {
		rw := do(a, http.MethodPut, "/counter/increment", "")
		require.Equal(t, http.StatusOK, rw.Code)
	}
	assert.Equal(t, counter.Max-1, getCounterValue(t, a))
}

func TestConcurrentIncrements(t *testing.T) {
	a := newTestApp(t)

	const workers = 16
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if rw := do(a, http.MethodPut, "/counter/increment", ""); rw.Code != http.StatusOK {
					t.Errorf("unexpected status code: %d", rw.Code)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*perWorker, getCounterValue(t, a))
}

func TestRouting(t *testing.T) {
	a := newTestApp(t)

	testCases := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodPost, "/", http.StatusNotFound},
		{http.MethodGet, "/unknown", http.StatusNotFound},
		{http.MethodDelete, "/counter", http.StatusNotFound},
		{http.MethodPut, "/counter", http.StatusNotFound},
		{http.MethodGet, "/counter/increment", http.StatusNotFound},
		{http.MethodPost, "/counter/decrement", http.StatusNotFound},
		{http.MethodGet, "/counter/", http.StatusNotFound},
		{http.MethodPost, "/ping", http.StatusNotFound},
		{http.MethodGet, "/favicon.ico", http.StatusNoContent},
		{http.MethodGet, "/ping", http.StatusOK},
	}
	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			rw := do(a, tc.method, tc.target, "")
			assert.Equal(t, tc.code, rw.Code)
			if tc.code == http.StatusNotFound {
				assert.Equal(t, "Not Found", decodeError(t, rw).Message)
			}
		})
	}
	assert.Equal(t, 0, getCounterValue(t, a))
}

func TestAllowedNetworks(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.HTTP.AllowedNetworks = mustNetworks(t, "10.0.0.0/8")
		cfg.Server.Metrics.AllowedNetworks = mustNetworks(t, "192.0.2.1")
	})

	rw := do(a, http.MethodPut, "/counter/increment", "")
	assert.Equal(t, http.StatusForbidden, rw.Code)
	assert.Equal(t, "close", rw.Header().Get("Connection"))
	assert.Equal(t, 0, a.counter.Get())

	// metrics have their own networks
	rw = do(a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "test_counter_value")
	assert.Contains(t, rw.Body.String(), "test_status_codes_total")
}

func TestMetricsForbidden(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.Metrics.AllowedNetworks = mustNetworks(t, "127.0.0.1")
	})
	rw := do(a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusForbidden, rw.Code)
	assert.Equal(t, "connections to /metrics are not allowed from 192.0.2.1:1234", decodeError(t, rw).Message)
}

func TestProxyHeaders(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.HTTP.AllowedNetworks = mustNetworks(t, "10.0.0.1")
		cfg.Server.Proxy = config.Proxy{Enable: true}
	})

	req := httptestRequest(http.MethodPut, "/counter/increment")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 192.0.2.1")
	rw := serveRequest(a, req)
	assert.Equal(t, http.StatusOK, rw.Code)

	req = httptestRequest(http.MethodPut, "/counter/increment")
	req.Header.Set("X-Forwarded-For", "10.0.0.2")
	rw = serveRequest(a, req)
	assert.Equal(t, http.StatusForbidden, rw.Code)
	assert.Equal(t, 1, a.counter.Get())
}

func TestRateLimit(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimit{RequestsPerSecond: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, do(a, http.MethodPut, "/counter/increment", "").Code)
	rw := do(a, http.MethodPut, "/counter/increment", "")
	assert.Equal(t, http.StatusTooManyRequests, rw.Code)
	assert.Equal(t, "Rate limit exceeded", decodeError(t, rw).Message)
	assert.Equal(t, 1, getCounterValue(t, a))
}

func TestRequestIDEchoed(t *testing.T) {
	a := newTestApp(t)
	req := httptestRequest(http.MethodGet, "/counter")
	req.Header.Set("X-Request-Id", "test-42")
	rw := serveRequest(a, req)
	assert.Equal(t, "test-42", rw.Header().Get("X-Request-Id"))

	rw = do(a, http.MethodGet, "/nope", "")
	assert.NotEmpty(t, rw.Header().Get("X-Request-Id"))
}
