package constants

import "time"

const (
	LibraryVersion = "0.1.0"
	LibraryName    = "sessionclient"

	DefaultBaseURL     = "http://localhost:8080"
	DefaultRefreshPath = "/auth/refresh"
	DefaultLoginPath   = "/auth/login"

	DefaultHTTPTimeout     = 30 * time.Second
	DefaultDialerTimeout   = 10 * time.Second
	DefaultUserAgent       = LibraryName + "/" + LibraryVersion
	MaxAPIRequestSize      = 1 * 1024 * 1024  // 1MB max request size
	MaxAPIResponseSize     = 10 * 1024 * 1024 // 10MB max response size
	MaxErrorMessageLength  = 256              // Longest summary kept from an error body
	MaxErrorBodySniffBytes = 64 * 1024        // Bytes of an error body inspected for a summary
	MaxRedirects           = 5

	// Connection pool settings
	MaxIdleConns        = 100              // Maximum number of idle connections across all hosts
	MaxIdleConnsPerHost = 10               // Maximum idle connections per host
	MaxConnsPerHost     = 100              // Maximum connections per host
	IdleConnTimeout     = 90 * time.Second // How long an idle connection can remain idle

	// Fine-grained timeouts
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 30 * time.Second
	ExpectContinueTimeout = 1 * time.Second
	KeepAliveTimeout      = 30 * time.Second

	TokenRefreshTimeout = 30 * time.Second // Upper bound for one refresh round-trip
	RedisOpTimeout      = 3 * time.Second
	MaxTokenLength      = 8192 // Longest token accepted from the identity endpoint

	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"

	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"
	HeaderRequestID     = "X-Request-ID"

	DirPermissions  = 0700
	FilePermissions = 0600

	DefaultStorageDir   = ".sessionclient"
	CredentialsFileName = "credentials.json"
	DefaultRedisPrefix  = "sessionclient:"
	DefaultKeyringName  = "sessionclient"

	// Storage keys, duplicated across the durable and session backends.
	KeyAccessToken     = "sessionclient.access_token"
	KeyRefreshToken    = "sessionclient.refresh_token"
	KeyPersistenceMode = "sessionclient.persistence_mode"

	EnvBaseURL        = "SESSIONCLIENT_BASE_URL"
	EnvTimeout        = "SESSIONCLIENT_TIMEOUT"
	EnvRefreshTimeout = "SESSIONCLIENT_REFRESH_TIMEOUT"
	EnvLogLevel       = "SESSIONCLIENT_LOG_LEVEL"
	EnvCredentialsDir = "SESSIONCLIENT_CREDENTIALS_DIR"
	EnvRedisURL       = "SESSIONCLIENT_REDIS_URL"
	EnvKeyringService = "SESSIONCLIENT_KEYRING_SERVICE"

	SchemeHTTP  = "http"
	SchemeHTTPS = "https"

	WhitespaceNewline = "\n"
	WhitespaceTab     = "\t"
	WhitespaceDouble  = "  "

	ValidationErrorEmpty    = "cannot be empty"
	ValidationErrorRequired = "must be provided"
	ValidationErrorInvalid  = "is invalid"
	ValidationErrorPositive = "must be positive"
	ConfigErrorPrefix       = "config error in "
)
