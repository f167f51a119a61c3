package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v2"
)

// Names of supported kv_store backends.
const (
	BackendInMemory = "inmem"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

const passwordMask = "XXX"

var (
	defaultConfig = Config{
		Server:  defaultServer,
		KVStore: defaultKVStore,
	}

	defaultServer = Server{
		HTTP: defaultHTTP,
	}

	defaultHTTP = HTTP{
		ListenAddr:   ":3000",
		ReadTimeout:  Duration(time.Minute),
		WriteTimeout: Duration(time.Minute),
		IdleTimeout:  Duration(10 * time.Minute),
	}

	defaultKVStore = KVStore{
		Backend:      BackendInMemory,
		MaxValueSize: MB,
		Redis:        defaultRedis,
	}

	defaultRedis = Redis{
		KeyPrefix: "kv:",
		Timeout:   Duration(2 * time.Second),
	}
)

// Config describes server configuration, access and storage rules
type Config struct {
	Server Server `yaml:"server,omitempty"`

	KVStore KVStore `yaml:"kv_store,omitempty"`

	// Whether to print debug logs
	LogDebug bool `yaml:"log_debug,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	c := deepcopy.Copy(&defaultConfig).(*Config)
	return c
}

// String implements the Stringer interface.
// Passwords are masked.
func (c *Config) String() string {
	cp := deepcopy.Copy(c).(*Config)
	if len(cp.KVStore.Redis.Password) > 0 {
		cp.KVStore.Redis.Password = passwordMask
	}
	b, err := yaml.Marshal(cp)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// set c to the defaults and then overwrite it with the input.
	*c = *Default()
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "config")
}

// Validate checks cross-section constraints which can't be verified
// while unmarshaling a single section.
func (c *Config) Validate() error {
	if len(c.Server.HTTP.ListenAddr) == 0 && len(c.Server.HTTPS.ListenAddr) == 0 {
		return fmt.Errorf("at least one of `server.http.listen_addr` or `server.https.listen_addr` must be set")
	}
	return c.KVStore.validate()
}

// ApplyEnv overrides config values from environment variables.
// Only PORT is supported: it replaces the port of `server.http.listen_addr`.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	port, ok := lookup("PORT")
	if !ok || len(port) == 0 {
		return nil
	}
	addr, err := listenAddrWithPort(c.Server.HTTP.ListenAddr, port)
	if err != nil {
		return fmt.Errorf("env PORT: %s", err)
	}
	c.Server.HTTP.ListenAddr = addr
	return nil
}

// Server describes configuration of the listening parts
type Server struct {
	// Optional HTTP configuration
	HTTP HTTP `yaml:"http,omitempty"`

	// Optional TLS configuration
	HTTPS HTTPS `yaml:"https,omitempty"`

	// Optional metrics handler configuration
	Metrics Metrics `yaml:"metrics,omitempty"`

	// Optional reverse proxy configuration
	Proxy Proxy `yaml:"proxy,omitempty"`

	// Optional limit for mutating requests
	RateLimit RateLimit `yaml:"rate_limit,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*s = defaultServer
	type plain Server
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return checkOverflow(s.XXX, "server")
}

// HTTP describes configuration for server to listen HTTP connections
type HTTP struct {
	// TCP address to listen to for http
	// Default is `:3000`. PORT env var overrides the port
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// List of networks that access is allowed from
	// Each list item could be IP address or subnet mask
	// if omitted or zero - no limits would be applied
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	ReadTimeout  Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout Duration `yaml:"write_timeout,omitempty"`
	IdleTimeout  Duration `yaml:"idle_timeout,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*h = defaultHTTP
	type plain HTTP
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}
	return checkOverflow(h.XXX, "http")
}

// HTTPS describes configuration for server to listen HTTPS connections
// It can be autocert with letsencrypt
// or custom certificate
type HTTPS struct {
	// TCP address to listen to for https
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// Certificate and key files for client cert authentication to the server
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	Autocert Autocert `yaml:"autocert,omitempty"`

	// List of networks that access is allowed from
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTPS) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTPS
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if len(h.ListenAddr) == 0 {
		return checkOverflow(h.XXX, "https")
	}

	if len(h.KeyFile) > 0 && len(h.CertFile) == 0 {
		return fmt.Errorf("`https.cert_file` must be specified")
	}
	if len(h.CertFile) > 0 && len(h.KeyFile) == 0 {
		return fmt.Errorf("`https.key_file` must be specified")
	}
	if len(h.CertFile) > 0 && len(h.Autocert.CacheDir) > 0 {
		return fmt.Errorf("it is forbidden to specify certificate and `https.autocert` at the same time. Choose one way")
	}
	if len(h.CertFile) == 0 && len(h.Autocert.CacheDir) == 0 {
		return fmt.Errorf("configuration `https` is missing. " +
			"Must be specified `https.cert_file` and `https.key_file` " +
			"or `https.autocert.cache_dir`")
	}
	return checkOverflow(h.XXX, "https")
}

// Autocert configuration via letsencrypt
// It requires port :80 to be open
type Autocert struct {
	// Path to the directory where autocert certs are cached
	CacheDir string `yaml:"cache_dir,omitempty"`

	// The list of host names proxy is allowed to respond to
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (a *Autocert) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Autocert
	if err := unmarshal((*plain)(a)); err != nil {
		return err
	}
	return checkOverflow(a.XXX, "autocert")
}

// Metrics describes configuration to access metrics endpoint
type Metrics struct {
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	// Prefix of every exported metric
	Namespace string `yaml:"namespace,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (m *Metrics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Metrics
	if err := unmarshal((*plain)(m)); err != nil {
		return err
	}
	return checkOverflow(m.XXX, "metrics")
}

// Proxy describes how to find the client address behind a load balancer
type Proxy struct {
	// Enable enables parsing proxy headers. In proxy mode the client IP
	// is taken from the headers set by the proxy instead of RemoteAddr.
	Enable bool `yaml:"enable,omitempty"`

	// Header allows to set a custom header to read the client IP from.
	// If empty, X-Forwarded-For, X-Real-IP and Forwarded are tried in order.
	Header string `yaml:"header,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (p *Proxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Proxy
	if err := unmarshal((*plain)(p)); err != nil {
		return err
	}
	if len(p.Header) > 0 && !p.Enable {
		return fmt.Errorf("`proxy.header` is set but `proxy.enable` is false")
	}
	return checkOverflow(p.XXX, "proxy")
}

// RateLimit limits the rate of mutating requests (POST, PUT, DELETE)
// if omitted or zero - no limits would be applied
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// Maximum burst size. Defaults to 1 when requests_per_second is set
	Burst int `yaml:"burst,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rl *RateLimit) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain RateLimit
	if err := unmarshal((*plain)(rl)); err != nil {
		return err
	}
	if rl.RequestsPerSecond < 0 {
		return fmt.Errorf("`rate_limit.requests_per_second` must be positive")
	}
	if rl.Burst < 0 {
		return fmt.Errorf("`rate_limit.burst` must be positive")
	}
	if rl.RequestsPerSecond > 0 && rl.Burst == 0 {
		rl.Burst = 1
	}
	return checkOverflow(rl.XXX, "rate_limit")
}

// Enabled reports whether mutating requests are limited
func (rl RateLimit) Enabled() bool {
	return rl.RequestsPerSecond > 0
}

// KVStore describes the key-value store backend
type KVStore struct {
	// Backend is one of `inmem`, `redis` or `sqlite`
	// Default is `inmem`
	Backend string `yaml:"backend,omitempty"`

	// Maximum size of a single value
	// Default is 1MB
	MaxValueSize ByteSize `yaml:"max_value_size,omitempty"`

	Redis Redis `yaml:"redis,omitempty"`

	SQLite SQLite `yaml:"sqlite,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (kv *KVStore) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*kv = defaultKVStore
	type plain KVStore
	if err := unmarshal((*plain)(kv)); err != nil {
		return err
	}
	if err := kv.validate(); err != nil {
		return err
	}
	return checkOverflow(kv.XXX, "kv_store")
}

func (kv *KVStore) validate() error {
	switch kv.Backend {
	case BackendInMemory:
	case BackendRedis:
		if len(kv.Redis.Addresses) == 0 {
			return fmt.Errorf("`kv_store.redis.addresses` must contain at least 1 address for backend %q", kv.Backend)
		}
	case BackendSQLite:
		if len(kv.SQLite.Path) == 0 {
			return fmt.Errorf("`kv_store.sqlite.path` must be set for backend %q", kv.Backend)
		}
	default:
		return fmt.Errorf("unknown `kv_store.backend` %q: must be one of %q, %q or %q",
			kv.Backend, BackendInMemory, BackendRedis, BackendSQLite)
	}
	if kv.MaxValueSize <= 0 {
		return fmt.Errorf("`kv_store.max_value_size` must be positive")
	}
	return nil
}

// Redis describes connection to a redis server or cluster
type Redis struct {
	Addresses []string `yaml:"addresses,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`

	// Prefix prepended to every stored key
	// Default is `kv:`
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// Timeout of a single redis call
	// Default is 2s
	Timeout Duration `yaml:"timeout,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Redis) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*r = defaultRedis
	type plain Redis
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("`redis.timeout` must be positive")
	}
	return checkOverflow(r.XXX, "redis")
}

// SQLite describes a local sqlite database file
type SQLite struct {
	Path string `yaml:"path,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *SQLite) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain SQLite
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return checkOverflow(s.XXX, "sqlite")
}

// LoadFile loads and validates configuration from provided .yml file.
// Empty filename means default configuration.
func LoadFile(filename string) (*Config, error) {
	cfg := Default()
	if len(filename) > 0 {
		content, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		// cfg keeps the defaults if the file is empty
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
