package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contentsquare/counterd/config"
	"github.com/contentsquare/counterd/kvstore"
	"github.com/contentsquare/counterd/log"
	"golang.org/x/crypto/acme/autocert"
)

var configFile = flag.String("config", "", "Configuration filename. Default configuration is used if empty")

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	log.Infof("Loading config: %q", *configFile)
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("error while loading config: %s", err)
	}
	log.SetDebug(cfg.LogDebug)
	log.Infof("Loading config %q: successful", *configFile)

	registerMetrics(cfg.Server.Metrics.Namespace)

	store, err := kvstore.New(cfg.KVStore)
	if err != nil {
		log.Fatalf("cannot init kv_store %q: %s", cfg.KVStore.Backend, err)
	}
	log.Infof("Using kv_store backend %q", store.Name())

	a := newApp(cfg, store)

	var servers []*http.Server
	if len(cfg.Server.HTTPS.ListenAddr) != 0 {
		servers = append(servers, serveTLS(cfg.Server, a))
	}
	if len(cfg.Server.HTTP.ListenAddr) != 0 {
		servers = append(servers, serve(cfg.Server.HTTP, a))
	}
	if len(servers) == 0 {
		panic("BUG: broken config validation - `listen_addr` is not configured")
	}

	if ok, err := sdNotifyReady(); err != nil {
		log.Errorf("SdNotify error: %s", err)
	} else if ok {
		log.Debugf("SdNotify: ready")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range c {
		if sig == syscall.SIGHUP {
			log.Infof("SIGHUP received. Going to reload config %q ...", *configFile)
			if err := reloadConfig(a, cfg); err != nil {
				log.Errorf("error while reloading config: %s", err)
				continue
			}
			log.Infof("Reloading config %q: successful", *configFile)
			continue
		}

		log.Infof("%s received. Shutting down ...", sig)
		shutdown(servers)
		if err := store.Close(); err != nil {
			log.Errorf("error while closing kv_store: %s", err)
		}
		log.Infof("Bye")
		return
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("can't load config %q: %w", *configFile, err)
	}
	log.Infof("Loaded config:\n%s", cfg)
	return cfg, nil
}

// reloadConfig applies the settings which can be changed without restart.
func reloadConfig(a *app, running *config.Config) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, s := range restartRequired(running, cfg) {
		log.Errorf("changes of %s are ignored until restart", s)
	}
	a.applyConfig(cfg)
	return nil
}

// restartRequired lists changed sections which can't be applied on reload.
func restartRequired(running, loaded *config.Config) []string {
	var sections []string
	if running.Server.HTTP.ListenAddr != loaded.Server.HTTP.ListenAddr ||
		running.Server.HTTP.ReadTimeout != loaded.Server.HTTP.ReadTimeout ||
		running.Server.HTTP.WriteTimeout != loaded.Server.HTTP.WriteTimeout ||
		running.Server.HTTP.IdleTimeout != loaded.Server.HTTP.IdleTimeout {
		sections = append(sections, "`server.http`")
	}
	if running.Server.HTTPS.ListenAddr != loaded.Server.HTTPS.ListenAddr ||
		running.Server.HTTPS.CertFile != loaded.Server.HTTPS.CertFile ||
		running.Server.HTTPS.KeyFile != loaded.Server.HTTPS.KeyFile ||
		running.Server.HTTPS.Autocert.CacheDir != loaded.Server.HTTPS.Autocert.CacheDir {
		sections = append(sections, "`server.https`")
	}
	if running.Server.Metrics.Namespace != loaded.Server.Metrics.Namespace {
		sections = append(sections, "`server.metrics.namespace`")
	}
	if running.Server.Proxy.Enable != loaded.Server.Proxy.Enable || running.Server.Proxy.Header != loaded.Server.Proxy.Header {
		sections = append(sections, "`server.proxy`")
	}
	if running.KVStore.Backend != loaded.KVStore.Backend ||
		running.KVStore.SQLite.Path != loaded.KVStore.SQLite.Path ||
		running.KVStore.Redis.KeyPrefix != loaded.KVStore.Redis.KeyPrefix ||
		fmt.Sprint(running.KVStore.Redis.Addresses) != fmt.Sprint(loaded.KVStore.Redis.Addresses) {
		sections = append(sections, "`kv_store`")
	}
	return sections
}

func serveTLS(cfg config.Server, h http.Handler) *http.Server {
	ln, err := net.Listen("tcp", cfg.HTTPS.ListenAddr)
	if err != nil {
		log.Fatalf("cannot listen for %q: %s", cfg.HTTPS.ListenAddr, err)
	}
	tln := tls.NewListener(ln, newTLSConfig(cfg.HTTPS))
	s := newServer(cfg.HTTP, h)
	log.Infof("Serving https on %q", cfg.HTTPS.ListenAddr)
	go func() {
		if err := s.Serve(tln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("TLS server error on %q: %s", cfg.HTTPS.ListenAddr, err)
		}
	}()
	return s
}

func serve(cfg config.HTTP, h http.Handler) *http.Server {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("cannot listen for %q: %s", cfg.ListenAddr, err)
	}
	s := newServer(cfg, h)
	log.Infof("Serving http on %q", cfg.ListenAddr)
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error on %q: %s", cfg.ListenAddr, err)
		}
	}()
	return s
}

func newServer(cfg config.HTTP, h http.Handler) *http.Server {
	return &http.Server{
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.ReadTimeout),
		WriteTimeout: time.Duration(cfg.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.IdleTimeout),
		ErrorLog:     log.ErrorLogger,
	}
}

func shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			log.Errorf("error while shutting down server: %s", err)
		}
	}
}

func newTLSConfig(cfg config.HTTPS) *tls.Config {
	tlsCfg := tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}
	if len(cfg.KeyFile) > 0 && len(cfg.CertFile) > 0 {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("cannot load cert for `https.cert_file`=%q, `https.key_file`=%q: %s",
				cfg.CertFile, cfg.KeyFile, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else {
		if err := os.MkdirAll(cfg.Autocert.CacheDir, 0700); err != nil {
			log.Fatalf("error while creating folder %q: %s", cfg.Autocert.CacheDir, err)
		}
		am := newAutocertManager(cfg.Autocert)
		tlsCfg.GetCertificate = am.GetCertificate
	}
	return &tlsCfg
}

func newAutocertManager(cfg config.Autocert) *autocert.Manager {
	var hp autocert.HostPolicy
	if len(cfg.AllowedHosts) != 0 {
		allowedHosts := make(map[string]struct{}, len(cfg.AllowedHosts))
		for _, v := range cfg.AllowedHosts {
			allowedHosts[v] = struct{}{}
		}
		hp = func(_ context.Context, host string) error {
			if _, ok := allowedHosts[host]; ok {
				return nil
			}
			return fmt.Errorf("host %q doesn't match `host_policy` configuration", host)
		}
	}
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cfg.CacheDir),
		HostPolicy: hp,
	}
}
