package models

import (
	"fmt"
	"time"
)

// Record is a generic row of a business entity, keyed by column name.
type Record map[string]interface{}

func (r Record) GetString(key string) string {
	if val, ok := r[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

func (r Record) GetBool(key string) bool {
	if b, ok := r[key].(bool); ok {
		return b
	}
	return false
}

func (r Record) GetTime(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		parsed, _ := time.Parse(time.RFC3339, v)
		return parsed
	}
	return time.Time{}
}

// ID returns the record's primary key.
func (r Record) ID() string {
	return r.GetString("id")
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
