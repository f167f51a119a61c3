package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/contentsquare/counterd/config"
	"github.com/contentsquare/counterd/internal/counter"
	"github.com/contentsquare/counterd/kvstore"
	"github.com/contentsquare/counterd/log"
	"github.com/contentsquare/counterd/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// counterBodyLimit is the maximum size of POST /counter body
const counterBodyLimit = 1 << 20

// app owns the service state and serves all routes.
type app struct {
	counter *counter.Counter
	kv      kvstore.Store

	// settings which may be changed on config reload
	allowedNetworksHTTP    atomic.Value // *config.Networks
	allowedNetworksHTTPS   atomic.Value // *config.Networks
	allowedNetworksMetrics atomic.Value // *config.Networks
	maxValueSize           atomic.Int64
	limiter                *middleware.RateLimiter

	kvHandler http.Handler
	api       http.Handler
	handler   http.Handler
}

var promHandler = promhttp.Handler()

func newApp(cfg *config.Config, kv kvstore.Store) *app {
	a := &app{
		counter: counter.New(),
		kv:      kv,
	}
	a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, a.onRateLimited)
	a.applyConfig(cfg)

	a.kvHandler = gzhttp.GzipHandler(http.HandlerFunc(a.serveKV))
	a.api = a.limiter.Wrap(http.HandlerFunc(a.route))

	// proxy settings are applied on start only
	var h http.Handler = http.HandlerFunc(a.serveHTTP)
	h = middleware.NewRealIP(cfg.Server.Proxy, h)
	h = middleware.RequestID(h)
	a.handler = instrument(h)

	counterValue.Set(float64(a.counter.Get()))
	return a
}

// applyConfig applies settings that don't require restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.allowedNetworksHTTP.Store(&cfg.Server.HTTP.AllowedNetworks)
	a.allowedNetworksHTTPS.Store(&cfg.Server.HTTPS.AllowedNetworks)
	a.allowedNetworksMetrics.Store(&cfg.Server.Metrics.AllowedNetworks)
	a.maxValueSize.Store(int64(cfg.KVStore.MaxValueSize))
	a.limiter.Apply(cfg.Server.RateLimit)
	log.SetDebug(cfg.LogDebug)
}

func (a *app) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(rw, r)
}

func (a *app) serveHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/favicon.ico":
		rw.WriteHeader(http.StatusNoContent)
	case "/metrics":
		an := a.allowedNetworksMetrics.Load().(*config.Networks)
		if !an.Contains(r.RemoteAddr) {
			err := fmt.Errorf("connections to /metrics are not allowed from %s", r.RemoteAddr)
			rw.Header().Set("Connection", "close")
			respondWith(rw, r, err, http.StatusForbidden)
			return
		}
		promHandler.ServeHTTP(rw, r)
	default:
		var err error
		var an *config.Networks
		if r.TLS != nil {
			an = a.allowedNetworksHTTPS.Load().(*config.Networks)
			err = fmt.Errorf("https connections are not allowed from %s", r.RemoteAddr)
		} else {
			an = a.allowedNetworksHTTP.Load().(*config.Networks)
			err = fmt.Errorf("http connections are not allowed from %s", r.RemoteAddr)
		}
		if !an.Contains(r.RemoteAddr) {
			rw.Header().Set("Connection", "close")
			respondWith(rw, r, err, http.StatusForbidden)
			return
		}
		a.api.ServeHTTP(rw, r)
	}
}

// route dispatches API requests. Unknown paths and
// unsupported methods on known paths get 404.
func (a *app) route(rw http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/" && r.Method == http.MethodGet:
		respondWithStatus(rw, r, http.StatusForbidden)
	case path == "/ping" && r.Method == http.MethodGet:
		fmt.Fprint(rw, "Ok.\n")
	case path == "/counter" && r.Method == http.MethodGet:
		a.getCounter(rw, r)
	case path == "/counter" && r.Method == http.MethodPost:
		a.setCounter(rw, r)
	case path == "/counter/increment" && r.Method == http.MethodPut:
		a.incrementCounter(rw, r)
	case path == "/counter/decrement" && r.Method == http.MethodPut:
		a.decrementCounter(rw, r)
	case path == "/kv" || strings.HasPrefix(path, kvPathPrefix):
		a.kvHandler.ServeHTTP(rw, r)
	default:
		a.notFound(rw, r)
	}
}

func (a *app) notFound(rw http.ResponseWriter, r *http.Request) {
	badRequest.Inc()
	respondWithStatus(rw, r, http.StatusNotFound)
}

func (a *app) onRateLimited(rw http.ResponseWriter, r *http.Request) {
	rateLimited.Inc()
	respondWith(rw, r, errors.New("Rate limit exceeded"), http.StatusTooManyRequests)
}
