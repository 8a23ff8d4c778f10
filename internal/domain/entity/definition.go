package entity

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/shopspring/decimal"
)

// FieldType is the storage and validation type of an entity field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldInt      FieldType = "int"
	FieldDecimal  FieldType = "decimal"
	FieldBool     FieldType = "bool"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldChoice   FieldType = "choice"
	FieldRef      FieldType = "ref"
	FieldUser     FieldType = "user"
	FieldJSON     FieldType = "json"
)

// OnDelete is the action applied to referencing rows when a target is deleted.
type OnDelete string

const (
	Cascade  OnDelete = "cascade"
	SetNull  OnDelete = "set_null"
	Restrict OnDelete = "restrict"
)

const defaultMaxLength = 255

// FieldDefinition describes one column of an entity.
type FieldDefinition struct {
	Name      string
	Label     string
	Type      FieldType
	Required  bool
	MaxLength int
	Choices   []string
	Ref       string
	OnDelete  OnDelete
	ReadOnly  bool
	Default   interface{}
	Min       *int64
	Max       *int64
}

// Limit returns the effective max length of string-like fields.
func (f *FieldDefinition) Limit() int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	return defaultMaxLength
}

func (f *FieldDefinition) HasChoice(v string) bool {
	for _, c := range f.Choices {
		if c == v {
			return true
		}
	}
	return false
}

// EntityDefinition describes a business entity served by the generic CRUD layer.
type EntityDefinition struct {
	Name            string
	Table           string
	Label           string
	OwnerScoped     bool
	Fields          []*FieldDefinition
	SearchFields    []string
	OrderingFields  []string
	DefaultOrdering string

	byName map[string]*FieldDefinition
}

func (d *EntityDefinition) index() {
	d.byName = make(map[string]*FieldDefinition, len(d.Fields))
	for _, f := range d.Fields {
		if f.Label == "" {
			f.Label = f.Name
		}
		d.byName[f.Name] = f
	}
}

// Field looks up a declared (non-system) field.
func (d *EntityDefinition) Field(name string) (*FieldDefinition, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// HasColumn reports whether name is a declared or system column.
func (d *EntityDefinition) HasColumn(name string) bool {
	if constants.IsSystemField(name) {
		return true
	}
	_, ok := d.byName[name]
	return ok
}

// Columns lists system columns followed by declared fields.
func (d *EntityDefinition) Columns() []string {
	cols := make([]string, 0, len(constants.SystemFields)+len(d.Fields))
	cols = append(cols, constants.SystemFields...)
	for _, f := range d.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// RefFields returns the fields pointing at other entities.
func (d *EntityDefinition) RefFields() []*FieldDefinition {
	var refs []*FieldDefinition
	for _, f := range d.Fields {
		if f.Type == FieldRef {
			refs = append(refs, f)
		}
	}
	return refs
}

// CanOrderBy reports whether name is an allowed ordering field.
func (d *EntityDefinition) CanOrderBy(name string) bool {
	for _, f := range d.OrderingFields {
		if f == name {
			return true
		}
	}
	return false
}

// Decode converts raw driver values of a scanned row into typed values.
func (d *EntityDefinition) Decode(r models.Record) models.Record {
	for _, name := range []string{constants.FieldCreatedAt, constants.FieldUpdatedAt} {
		if t, ok := decodeTime(r[name]); ok {
			r[name] = t
		}
	}
	for _, f := range d.Fields {
		raw, ok := r[f.Name]
		if !ok || raw == nil {
			continue
		}
		switch f.Type {
		case FieldInt:
			if n, ok := utils.ToInt64(raw); ok {
				r[f.Name] = n
			}
		case FieldDecimal:
			if dec, err := decimal.NewFromString(utils.ToString(raw)); err == nil {
				r[f.Name] = dec
			}
		case FieldBool:
			r[f.Name] = utils.ToBool(raw)
		case FieldDate:
			if t, ok := decodeTime(raw); ok {
				r[f.Name] = t.Format(models.DateLayout)
			}
		case FieldDateTime:
			if t, ok := decodeTime(raw); ok {
				r[f.Name] = t
			}
		case FieldJSON:
			s := utils.ToString(raw)
			if json.Valid([]byte(s)) {
				r[f.Name] = json.RawMessage(s)
			}
		}
	}
	return r
}

func decodeTime(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", models.DateLayout} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Reference is a ref field of Entity that targets another entity.
type Reference struct {
	Entity *EntityDefinition
	Field  *FieldDefinition
}

// Registry holds the entity definitions served by the API.
type Registry struct {
	entities map[string]*EntityDefinition
}

func NewRegistry(defs ...*EntityDefinition) *Registry {
	r := &Registry{entities: make(map[string]*EntityDefinition)}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

func (r *Registry) Register(d *EntityDefinition) {
	if d.Table == "" {
		d.Table = d.Name
	}
	d.index()
	r.entities[d.Name] = d
}

func (r *Registry) Get(name string) (*EntityDefinition, bool) {
	d, ok := r.entities[name]
	return d, ok
}

// All returns definitions sorted by name.
func (r *Registry) All() []*EntityDefinition {
	out := make([]*EntityDefinition, 0, len(r.entities))
	for _, d := range r.entities {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReferencesTo lists every ref field targeting entity, in stable order.
func (r *Registry) ReferencesTo(entity string) []Reference {
	var refs []Reference
	for _, d := range r.All() {
		for _, f := range d.Fields {
			if f.Type == FieldRef && f.Ref == entity {
				refs = append(refs, Reference{Entity: d, Field: f})
			}
		}
	}
	return refs
}

// Tables returns the table names of all registered entities.
func (r *Registry) Tables() map[string]*EntityDefinition {
	out := make(map[string]*EntityDefinition, len(r.entities))
	for _, d := range r.entities {
		out[d.Table] = d
	}
	return out
}
