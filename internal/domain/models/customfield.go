package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the type tag of a custom field value.
type FieldKind string

const (
	KindText    FieldKind = "text"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindDate    FieldKind = "date"
	KindJSON    FieldKind = "json"
)

// DateLayout is the wire format of date values.
const DateLayout = "2006-01-02"

var FieldKinds = []FieldKind{KindText, KindNumber, KindBoolean, KindDate, KindJSON}

func (k FieldKind) Valid() bool {
	for _, v := range FieldKinds {
		if v == k {
			return true
		}
	}
	return false
}

// EntityRef points at a record of any entity.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r EntityRef) String() string {
	return r.Type + ":" + r.ID
}

// Value is a closed union: exactly one payload is set and it matches Kind.
type Value struct {
	Kind   FieldKind
	Text   *string
	Number *float64
	Bool   *bool
	Date   *time.Time
	JSON   json.RawMessage
}

func TextValue(s string) Value { return Value{Kind: KindText, Text: &s} }

func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: &n} }

func BoolValue(b bool) Value { return Value{Kind: KindBoolean, Bool: &b} }

func DateValue(t time.Time) Value {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Value{Kind: KindDate, Date: &d}
}

func JSONValue(raw json.RawMessage) Value { return Value{Kind: KindJSON, JSON: raw} }

var ErrInvalidValue = errors.New("invalid custom field value")

// Validate checks the union invariant.
func (v Value) Validate() error {
	set := 0
	var got FieldKind
	if v.Text != nil {
		set++
		got = KindText
	}
	if v.Number != nil {
		set++
		got = KindNumber
	}
	if v.Bool != nil {
		set++
		got = KindBoolean
	}
	if v.Date != nil {
		set++
		got = KindDate
	}
	if v.JSON != nil {
		set++
		got = KindJSON
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrInvalidValue, set)
	}
	if got != v.Kind {
		return fmt.Errorf("%w: kind %q carries a %s payload", ErrInvalidValue, v.Kind, got)
	}
	return nil
}

// Interface returns the payload as a plain JSON-friendly value.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindText:
		if v.Text != nil {
			return *v.Text
		}
	case KindNumber:
		if v.Number != nil {
			return *v.Number
		}
	case KindBoolean:
		if v.Bool != nil {
			return *v.Bool
		}
	case KindDate:
		if v.Date != nil {
			return v.Date.Format(DateLayout)
		}
	case KindJSON:
		if v.JSON != nil {
			return v.JSON
		}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseValue converts a decoded JSON value into a Value of the given kind.
func ParseValue(kind FieldKind, raw interface{}) (Value, error) {
	if raw == nil {
		return Value{}, fmt.Errorf("%w: value is null", ErrInvalidValue)
	}
	switch kind {
	case KindText:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected a string", ErrInvalidValue)
		}
		return TextValue(s), nil
	case KindNumber:
		switch n := raw.(type) {
		case float64:
			return NumberValue(n), nil
		case int:
			return NumberValue(float64(n)), nil
		case int64:
			return NumberValue(float64(n)), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return Value{}, fmt.Errorf("%w: expected a number", ErrInvalidValue)
			}
			return NumberValue(f), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: expected a number", ErrInvalidValue)
			}
			return NumberValue(f), nil
		}
		return Value{}, fmt.Errorf("%w: expected a number", ErrInvalidValue)
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("%w: expected a boolean", ErrInvalidValue)
		}
		return BoolValue(b), nil
	case KindDate:
		s, ok := raw.(string)
		if !ok || !dateRe.MatchString(s) {
			return Value{}, fmt.Errorf("%w: expected a date (YYYY-MM-DD)", ErrInvalidValue)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: expected a date (YYYY-MM-DD)", ErrInvalidValue)
		}
		return DateValue(t), nil
	case KindJSON:
		b, err := json.Marshal(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return JSONValue(b), nil
	}
	return Value{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, kind)
}

// CustomFieldDefinition declares a tenant-defined field on an entity.
type CustomFieldDefinition struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Entity    string    `json:"entity"`
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Type      FieldKind `json:"type"`
	Required  bool      `json:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomFieldValue is one stored value of a definition for one record.
type CustomFieldValue struct {
	DefinitionID string    `json:"definition_id"`
	Ref          EntityRef `json:"ref"`
	Value        Value     `json:"value"`
}
