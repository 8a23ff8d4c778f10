package versioning

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
)

// APIVersion is the version a client asked for with the X-API-Version header.
type APIVersion struct {
	Major int
	Minor int
}

// Current is the newest version served under /api/v1.
var Current = APIVersion{Major: 1, Minor: 0}

func (v APIVersion) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// ParseVersion reads "v1.2", "1.2" or "1". An empty header means Current;
// unparsable parts fall back to Current's major and a zero minor.
func ParseVersion(header string) APIVersion {
	header = strings.TrimPrefix(strings.TrimSpace(header), "v")
	if header == "" {
		return Current
	}
	v := APIVersion{Major: Current.Major}
	majorPart, minorPart, _ := strings.Cut(header, ".")
	if n, err := strconv.Atoi(majorPart); err == nil {
		v.Major = n
	}
	if n, err := strconv.Atoi(minorPart); err == nil {
		v.Minor = n
	}
	return v
}

// UnsupportedVersionError rejects a major version this server does not serve.
type UnsupportedVersionError struct {
	Requested APIVersion
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported API version %s, this server speaks %s", e.Requested, Current)
}

func (e *UnsupportedVersionError) Kind() appErrors.Kind { return appErrors.KindValidation }
func (e *UnsupportedVersionError) Code() string         { return "UNSUPPORTED_VERSION" }

type contextKey string

const keyAPIVersion contextKey = "api_version"

// WithVersion stores v in ctx.
func WithVersion(ctx context.Context, v APIVersion) context.Context {
	return context.WithValue(ctx, keyAPIVersion, v)
}

// FromContext returns the requested version, defaulting to Current.
func FromContext(ctx context.Context) APIVersion {
	if v, ok := ctx.Value(keyAPIVersion).(APIVersion); ok {
		return v
	}
	return Current
}

// Middleware parses X-API-Version, rejects majors this server does not serve
// and echoes the served version back.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		version := ParseVersion(c.GetHeader(constants.HeaderAPIVersion))
		if version.Major != Current.Major {
			err := &UnsupportedVersionError{Requested: version}
			c.AbortWithStatusJSON(appErrors.GetHTTPStatus(err), appErrors.ToResponse(err))
			return
		}
		c.Request = c.Request.WithContext(WithVersion(c.Request.Context(), version))
		c.Header(constants.HeaderAPIVersion, Current.String())
		c.Next()
	}
}
