package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/contentsquare/counterd/kvstore"
)

const kvPathPrefix = "/kv/"

// kvBodyOverhead leaves room for the JSON envelope and escaping
// on top of kv_store.max_value_size.
const kvBodyOverhead = 1024

type kvKeysResponse struct {
	Keys []string `json:"keys"`
}

type kvEntryResponse struct {
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

func (a *app) serveKV(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/kv" {
		if r.Method != http.MethodGet {
			a.notFound(rw, r)
			return
		}
		a.listKeys(rw, r)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, kvPathPrefix)
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		a.notFound(rw, r)
		return
	}
	if err := kvstore.ValidateKey(key); err != nil {
		respondWith(rw, r, err, http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getValue(rw, r, key)
	case http.MethodPut:
		a.putValue(rw, r, key)
	case http.MethodDelete:
		a.deleteValue(rw, r, key)
	}
}

func (a *app) listKeys(rw http.ResponseWriter, r *http.Request) {
	keys, err := a.kv.Keys(r.Context())
	if err != nil {
		a.respondKVError(rw, r, "keys", "", err)
		return
	}
	a.kvDone("keys", "ok")
	if keys == nil {
		keys = []string{}
	}
	writeJSON(rw, http.StatusOK, kvKeysResponse{Keys: keys})
}

func (a *app) getValue(rw http.ResponseWriter, r *http.Request, key string) {
	v, err := a.kv.Get(r.Context(), key)
	if err != nil {
		a.respondKVError(rw, r, "get", key, err)
		return
	}
	a.kvDone("get", "ok")
	writeJSON(rw, http.StatusOK, kvEntryResponse{Key: key, Value: &v})
}

func (a *app) putValue(rw http.ResponseWriter, r *http.Request, key string) {
	maxValueSize := a.maxValueSize.Load()
	body, err := readBody(rw, r, 2*maxValueSize+kvBodyOverhead)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondWith(rw, r, err, status)
		return
	}
	v, err := decodeValuePayload(body)
	if err != nil {
		respondWith(rw, r, err, http.StatusBadRequest)
		return
	}
	if int64(len(v)) > maxValueSize {
		err := fmt.Errorf("%w: value is %d bytes long, max is %d", errPayloadTooLarge, len(v), maxValueSize)
		respondWith(rw, r, err, http.StatusRequestEntityTooLarge)
		return
	}

	if err := a.kv.Put(r.Context(), key, v); err != nil {
		a.respondKVError(rw, r, "put", key, err)
		return
	}
	a.kvDone("put", "ok")
	writeJSON(rw, http.StatusOK, kvEntryResponse{Key: key, Value: &v})
}

func (a *app) deleteValue(rw http.ResponseWriter, r *http.Request, key string) {
	if err := a.kv.Delete(r.Context(), key); err != nil {
		a.respondKVError(rw, r, "delete", key, err)
		return
	}
	a.kvDone("delete", "ok")
	writeJSON(rw, http.StatusOK, kvEntryResponse{Key: key})
}

func (a *app) respondKVError(rw http.ResponseWriter, r *http.Request, op, key string, err error) {
	if errors.Is(err, kvstore.ErrMissing) {
		a.kvDone(op, "missing")
		respondWith(rw, r, fmt.Errorf("key %q not found", key), http.StatusNotFound)
		return
	}
	a.kvDone(op, "error")
	respondWith(rw, r, err, http.StatusInternalServerError)
}

func (a *app) kvDone(op, result string) {
	kvOperations.WithLabelValues(a.kv.Name(), op, result).Inc()
}

// decodeValuePayload extracts the value from `{"value": "string"}`.
func decodeValuePayload(body []byte) (string, error) {
	m, err := decodeObject(body, "value")
	if err != nil {
		return "", err
	}
	raw, ok := m["value"]
	if !ok {
		return "", errors.New(`"value" is required`)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || strings.TrimSpace(string(raw)) == "null" {
		return "", errors.New(`"value" must be a string`)
	}
	return v, nil
}
