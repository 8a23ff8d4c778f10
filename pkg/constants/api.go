package constants

// HTTP and API constants
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"

	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"
	HeaderAPIVersion    = "X-API-Version"
	HeaderQueryCount    = "X-Query-Count"
	HeaderQueryTimeMs   = "X-Query-Time-Ms"
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter    = "Retry-After"

	BearerPrefix = "Bearer "

	APIPrefix = "/api/v1"
)

// Context Keys
const (
	ContextKeyUser      = "user"
	ContextKeyToken     = "token"
	ContextKeySession   = "session_id"
	ContextKeyRequestID = "request_id"
)

// Query parameters
const (
	ParamPage     = "page"
	ParamPageSize = "page_size"
	ParamSearch   = "search"
	ParamOrdering = "ordering"
	ParamFilter   = "filter"
	ParamExpand   = "expand"

	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Limits
const (
	MaxBulkItems  = 500
	BulkBatchSize = 100
	MaxExportRows = 10000
	MaxSQLRows    = 1000
)
