package sessionclient

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/d-kuro/sessionclient/pkg/constants"
	"github.com/d-kuro/sessionclient/pkg/logging"
	"github.com/d-kuro/sessionclient/pkg/storage"
)

// Config holds all configuration options for the session client.
// It is resolved once when the client is created and never re-read.
type Config struct {
	// API Configuration
	BaseURL     string `json:"baseUrl,omitempty"`
	RefreshPath string `json:"refreshPath,omitempty"`
	LoginPath   string `json:"loginPath,omitempty"`

	// HTTP Configuration
	Timeout         time.Duration `json:"timeout,omitempty"`
	RefreshTimeout  time.Duration `json:"refreshTimeout,omitempty"`
	MaxResponseSize int64         `json:"maxResponseSize,omitempty"`
	UserAgent       string        `json:"userAgent,omitempty"`
	HTTPClient      *http.Client  `json:"-"`

	// Credential Storage. A nil DurableBackend selects a FileSystemBackend in
	// the default directory when the client is created.
	DurableBackend storage.Backend `json:"-"`
	SessionBackend storage.Backend `json:"-"`

	Logger logging.Logger `json:"-"`

	// err records a failure while applying options, reported by Validate.
	err error
}

// ConfigOption defines a functional option for configuring the Config.
type ConfigOption func(*Config)

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithTimeout sets the HTTP timeout for a single request.
func WithTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRefreshPath sets the path of the token refresh endpoint.
func WithRefreshPath(path string) ConfigOption {
	return func(c *Config) {
		c.RefreshPath = path
	}
}

// WithLoginPath sets the path of the login endpoint.
func WithLoginPath(path string) ConfigOption {
	return func(c *Config) {
		c.LoginPath = path
	}
}

// WithRefreshTimeout bounds one refresh round-trip.
func WithRefreshTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RefreshTimeout = timeout
	}
}

// WithMaxResponseSize sets the maximum response body size.
func WithMaxResponseSize(size int64) ConfigOption {
	return func(c *Config) {
		c.MaxResponseSize = size
	}
}

// WithUserAgent sets the User-Agent header. An empty value omits the header.
func WithUserAgent(userAgent string) ConfigOption {
	return func(c *Config) {
		c.UserAgent = userAgent
	}
}

// WithDurableBackend sets the backend used for persistent logins.
func WithDurableBackend(b storage.Backend) ConfigOption {
	return func(c *Config) {
		c.DurableBackend = b
	}
}

// WithSessionBackend sets the backend used for session-only logins.
func WithSessionBackend(b storage.Backend) ConfigOption {
	return func(c *Config) {
		c.SessionBackend = b
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger logging.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(client *http.Client) ConfigOption {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// FromEnv applies SESSIONCLIENT_* environment variables. Unset or malformed
// values keep the current setting. When several storage variables are set,
// SESSIONCLIENT_REDIS_URL wins over SESSIONCLIENT_KEYRING_SERVICE, which wins
// over SESSIONCLIENT_CREDENTIALS_DIR.
func FromEnv() ConfigOption {
	return func(c *Config) {
		c.BaseURL = envString(constants.EnvBaseURL, c.BaseURL)
		c.Timeout = envDuration(constants.EnvTimeout, c.Timeout)
		c.RefreshTimeout = envDuration(constants.EnvRefreshTimeout, c.RefreshTimeout)

		if level := envString(constants.EnvLogLevel, ""); level != "" {
			c.Logger = logging.NewLogger(level, os.Stderr)
		}

		if dir := envString(constants.EnvCredentialsDir, ""); dir != "" {
			fs, err := storage.NewFileSystemBackend(dir)
			if err != nil {
				c.err = fmt.Errorf("%s: %w", constants.EnvCredentialsDir, err)
				return
			}
			c.DurableBackend = fs
		}

		if service := envString(constants.EnvKeyringService, ""); service != "" {
			c.DurableBackend = storage.NewKeyringBackend(service)
		}

		if redisURL := envString(constants.EnvRedisURL, ""); redisURL != "" {
			rb, err := storage.NewRedisBackendFromURL(redisURL)
			if err != nil {
				c.err = fmt.Errorf("%s: %w", constants.EnvRedisURL, err)
				return
			}
			c.DurableBackend = rb
		}
	}
}

// NewConfig creates a new configuration with the provided options.
// If no options are provided, returns a configuration with sensible defaults.
func NewConfig(opts ...ConfigOption) *Config {
	config := &Config{
		BaseURL:     constants.DefaultBaseURL,
		RefreshPath: constants.DefaultRefreshPath,
		LoginPath:   constants.DefaultLoginPath,

		Timeout:         constants.DefaultHTTPTimeout,
		RefreshTimeout:  constants.TokenRefreshTimeout,
		MaxResponseSize: constants.MaxAPIResponseSize,
		UserAgent:       constants.DefaultUserAgent,

		// Session-only logins live as long as the process.
		SessionBackend: storage.NewMemoryBackend(),

		Logger: logging.Nop(),
	}

	for _, opt := range opts {
		opt(config)
	}

	return config
}

// Validate ensures the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.err != nil {
		return c.err
	}
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: constants.ValidationErrorEmpty}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != constants.SchemeHTTP && u.Scheme != constants.SchemeHTTPS) || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Message: constants.ValidationErrorInvalid}
	}
	if strings.TrimSpace(c.RefreshPath) == "" {
		return &ConfigError{Field: "RefreshPath", Message: constants.ValidationErrorEmpty}
	}
	if strings.TrimSpace(c.LoginPath) == "" {
		return &ConfigError{Field: "LoginPath", Message: constants.ValidationErrorEmpty}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Message: constants.ValidationErrorPositive}
	}
	if c.RefreshTimeout <= 0 {
		return &ConfigError{Field: "RefreshTimeout", Message: constants.ValidationErrorPositive}
	}
	if c.MaxResponseSize <= 0 {
		return &ConfigError{Field: "MaxResponseSize", Message: constants.ValidationErrorPositive}
	}
	if c.SessionBackend == nil {
		return &ConfigError{Field: "SessionBackend", Message: constants.ValidationErrorRequired}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return constants.ConfigErrorPrefix + e.Field + ": " + e.Message
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
