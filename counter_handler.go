package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/contentsquare/counterd/internal/counter"
)

type counterResponse struct {
	Counter int `json:"counter"`
}

func (a *app) getCounter(rw http.ResponseWriter, r *http.Request) {
	if len(r.URL.RawQuery) > 0 {
		respondWith(rw, r, queryNotAllowed(r.URL.RawQuery), http.StatusBadRequest)
		return
	}
	writeJSON(rw, http.StatusOK, counterResponse{Counter: a.counter.Get()})
}

// queryNotAllowed names the first parameter of the query
func queryNotAllowed(rawQuery string) error {
	q, err := url.ParseQuery(rawQuery)
	if err != nil || len(q) == 0 {
		return fmt.Errorf("query parameters are not allowed")
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("%q is not allowed", keys[0])
}

func (a *app) setCounter(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(rw, r, counterBodyLimit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondWith(rw, r, err, status)
		return
	}
	n, err := decodeCounterPayload(body)
	if err != nil {
		counterOperations.WithLabelValues(counter.OpSet, "invalid").Inc()
		respondWith(rw, r, err, http.StatusBadRequest)
		return
	}
	v, err := a.counter.Set(n)
	a.respondCounter(rw, r, counter.OpSet, v, err)
}

func (a *app) incrementCounter(rw http.ResponseWriter, r *http.Request) {
	v, err := a.counter.Increment()
	a.respondCounter(rw, r, counter.OpIncrement, v, err)
}

func (a *app) decrementCounter(rw http.ResponseWriter, r *http.Request) {
	v, err := a.counter.Decrement()
	a.respondCounter(rw, r, counter.OpDecrement, v, err)
}

func (a *app) respondCounter(rw http.ResponseWriter, r *http.Request, op string, v int, err error) {
	if err != nil {
		if !errors.Is(err, counter.ErrOutOfRange) {
			panic(fmt.Sprintf("BUG: unexpected error from counter %s: %s", op, err))
		}
		counterOperations.WithLabelValues(op, "rejected").Inc()
		respondWith(rw, r, err, http.StatusBadRequest)
		return
	}
	counterOperations.WithLabelValues(op, "ok").Inc()
	counterValue.Set(float64(v))
	writeJSON(rw, http.StatusOK, counterResponse{Counter: v})
}

// decodeCounterPayload extracts the counter value from `{"counter": N}`.
//
// N may be a JSON number or a numeric string. It must be an integer
// in [counter.Min, counter.Max]; 50.0 counts as an integer.
func decodeCounterPayload(body []byte) (int, error) {
	m, err := decodeObject(body, "counter")
	if err != nil {
		return 0, err
	}
	raw, ok := m["counter"]
	if !ok {
		return 0, errors.New(`"counter" is required`)
	}

	var s string
	switch v := strings.TrimSpace(string(raw)); {
	case strings.HasPrefix(v, `"`):
		if err := json.Unmarshal(raw, &s); err != nil {
			panic(fmt.Sprintf("BUG: valid JSON string can't be decoded: %s", err))
		}
		s = strings.TrimSpace(s)
	case strings.HasPrefix(v, "-") || (len(v) > 0 && v[0] >= '0' && v[0] <= '9'):
		s = v
	default:
		// null, booleans, arrays and objects
		return 0, errors.New(`"counter" must be a number`)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, errors.New(`"counter" must be a number`)
	}
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		// ParseFloat accepts strings like "NaN" or "Inf"
		return 0, errors.New(`"counter" must be a number`)
	}
	if f != math.Trunc(f) || (err != nil && f == 0) {
		// fractions, including ones too small to be represented
		return 0, errors.New(`"counter" must be an integer`)
	}
	if f < counter.Min {
		return 0, fmt.Errorf(`"counter" must be larger than or equal to %d`, counter.Min)
	}
	if f > counter.Max {
		return 0, fmt.Errorf(`"counter" must be less than or equal to %d`, counter.Max)
	}
	return int(f), nil
}
