package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ToBool reads driver and JSON values as booleans. TINYINT(1) columns
// arrive as int64 or as raw bytes depending on the protocol.
func ToBool(val interface{}) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	}
	if n, ok := ToInt64(val); ok {
		return n != 0
	}
	switch strings.ToLower(strings.TrimSpace(ToString(val))) {
	case "true", "t", "yes", "on":
		return true
	}
	return false
}

// ToInt64 reads integers from driver values, JSON numbers and digit strings.
// Floats are truncated.
func ToInt64(val interface{}) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case []byte, string:
		n, err := strconv.ParseInt(strings.TrimSpace(ToString(v)), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ToString renders scalar values; nil becomes "".
func ToString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(val)
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
