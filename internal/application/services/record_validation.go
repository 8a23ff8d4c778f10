package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/shopspring/decimal"
)

const (
	maxDecimalPlaces = 2
	maxDecimalDigits = 15
)

// Validation messages
const (
	msgRequired = "this field is required"
	msgNull     = "this field may not be null"
	msgBlank    = "this field may not be blank"
	msgUnknown  = "unknown field"
)

// validation is the outcome of checking one payload.
type validation struct {
	clean  models.Record
	custom CustomValues
	// refs and users collect referenced ids for the existence check.
	refs  map[string]map[string][]string // target entity -> id -> fields
	users map[string][]string            // user id -> fields
	errs  *appErrors.ValidationError
}

func newValidation() *validation {
	return &validation{
		clean: make(models.Record),
		refs:  make(map[string]map[string][]string),
		users: make(map[string][]string),
		errs:  appErrors.NewFieldErrors(""),
	}
}

func (v *validation) refer(target, id, field string) {
	if v.refs[target] == nil {
		v.refs[target] = make(map[string][]string)
	}
	v.refs[target][id] = append(v.refs[target][id], field)
}

// payloadMode selects which fields must be present.
type payloadMode int

const (
	modeCreate payloadMode = iota
	modeReplace
	modePartial
)

// checkPayload validates the static shape of a payload: known fields,
// types, lengths, choices and required fields. Read-only and system fields
// sent by the client are ignored, except owner_id which only assigners may
// set. Existence of referenced rows is checked by resolveRefs.
func (s *RecordService) checkPayload(user *auth.UserSession, def *entity.EntityDefinition, payload map[string]interface{}, mode payloadMode) *validation {
	v := newValidation()

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		raw := payload[name]
		switch {
		case name == constants.FieldCustomFields:
			continue
		case name == constants.FieldOwnerID:
			owner, ok := raw.(string)
			switch {
			case !ok || !utils.IsValidUUID(owner):
				v.errs.Add(name, "must be a user id")
			case owner != user.ID && !s.permissions.CanAssign(user):
				v.errs.Add(name, "you cannot assign records to other users")
			default:
				v.clean[name] = owner
				v.users[owner] = append(v.users[owner], name)
			}
			continue
		case constants.IsSystemField(name):
			continue
		}

		f, ok := def.Field(name)
		if !ok {
			v.errs.Add(name, msgUnknown)
			continue
		}
		if f.ReadOnly {
			continue
		}
		val, msg := s.coerce(f, raw)
		if msg != "" {
			v.errs.Add(name, msg)
			continue
		}
		v.clean[name] = val
		if val == nil {
			continue
		}
		switch f.Type {
		case entity.FieldRef:
			v.refer(f.Ref, val.(string), name)
		case entity.FieldUser:
			id := val.(string)
			v.users[id] = append(v.users[id], name)
		}
	}

	if mode == modePartial {
		return v
	}
	for _, f := range def.Fields {
		if f.ReadOnly {
			continue
		}
		if _, ok := v.clean[f.Name]; ok {
			continue
		}
		if _, sent := payload[f.Name]; sent {
			// already reported
			continue
		}
		if mode == modeCreate && f.Default != nil {
			v.clean[f.Name] = f.Default
			continue
		}
		if f.Required {
			v.errs.Add(f.Name, msgRequired)
		}
	}
	return v
}

// coerce converts one JSON value to the storage value of f. A non-empty
// message reports why the value is invalid.
func (s *RecordService) coerce(f *entity.FieldDefinition, raw interface{}) (interface{}, string) {
	if raw == nil {
		if f.Required {
			return nil, msgNull
		}
		return nil, ""
	}

	switch f.Type {
	case entity.FieldString, entity.FieldText, entity.FieldEmail:
		str, ok := raw.(string)
		if !ok {
			return nil, "not a valid string"
		}
		if f.Type == entity.FieldText {
			str = s.sanitizer.Sanitize(str)
		} else {
			str = strings.TrimSpace(str)
		}
		if str == "" {
			if f.Required {
				return nil, msgBlank
			}
			if f.Type == entity.FieldEmail {
				return nil, ""
			}
			return str, ""
		}
		if f.Type != entity.FieldText && len([]rune(str)) > f.Limit() {
			return nil, fmt.Sprintf("ensure this field has no more than %d characters", f.Limit())
		}
		if f.Type == entity.FieldEmail {
			if !auth.IsValidEmail(str) {
				return nil, "enter a valid email address"
			}
			str = auth.NormalizeEmail(str)
		}
		return str, ""

	case entity.FieldInt:
		n, ok := raw.(float64)
		if !ok || n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, "a valid integer is required"
		}
		i := int64(n)
		if f.Min != nil && i < *f.Min {
			return nil, fmt.Sprintf("ensure this value is greater than or equal to %d", *f.Min)
		}
		if f.Max != nil && i > *f.Max {
			return nil, fmt.Sprintf("ensure this value is less than or equal to %d", *f.Max)
		}
		return i, ""

	case entity.FieldDecimal:
		var d decimal.Decimal
		switch t := raw.(type) {
		case float64:
			d = decimal.NewFromFloat(t)
		case string:
			parsed, err := decimal.NewFromString(strings.TrimSpace(t))
			if err != nil {
				return nil, "a valid number is required"
			}
			d = parsed
		default:
			return nil, "a valid number is required"
		}
		if -d.Exponent() > maxDecimalPlaces && !d.Equal(d.Round(maxDecimalPlaces)) {
			return nil, fmt.Sprintf("ensure that there are no more than %d decimal places", maxDecimalPlaces)
		}
		if len(d.Truncate(0).Abs().String()) > maxDecimalDigits-maxDecimalPlaces {
			return nil, fmt.Sprintf("ensure that there are no more than %d digits before the decimal point", maxDecimalDigits-maxDecimalPlaces)
		}
		return d.Round(maxDecimalPlaces), ""

	case entity.FieldBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, "must be a valid boolean"
		}
		return b, ""

	case entity.FieldDate:
		str, ok := raw.(string)
		if !ok {
			return nil, "date has wrong format, use YYYY-MM-DD"
		}
		t, err := time.Parse(models.DateLayout, str)
		if err != nil {
			return nil, "date has wrong format, use YYYY-MM-DD"
		}
		return t.Format(models.DateLayout), ""

	case entity.FieldDateTime:
		str, ok := raw.(string)
		if !ok {
			return nil, "datetime has wrong format, use RFC 3339"
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return nil, "datetime has wrong format, use RFC 3339"
		}
		return t.UTC(), ""

	case entity.FieldChoice:
		str, ok := raw.(string)
		if !ok || !f.HasChoice(str) {
			return nil, fmt.Sprintf("%q is not a valid choice", utils.ToString(raw))
		}
		return str, ""

	case entity.FieldRef, entity.FieldUser:
		str, ok := raw.(string)
		if !ok || !utils.IsValidUUID(str) {
			return nil, "must be a valid id"
		}
		return str, ""

	case entity.FieldJSON:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, "must be valid JSON"
		}
		return json.RawMessage(b), ""
	}
	return nil, "unsupported field type"
}

// resolveRefs reports referenced records and users that do not exist in
// the caller's tenant.
func (s *RecordService) resolveRefs(ctx context.Context, tenantID string, v *validation) error {
	targets := make([]string, 0, len(v.refs))
	for t := range v.refs {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		def, err := s.definition(target)
		if err != nil {
			return err
		}
		byID := v.refs[target]
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		found, err := s.records.FetchByIDs(ctx, def, persistence.Scope{TenantID: tenantID}, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				for _, field := range byID[id] {
					v.errs.Add(field, fmt.Sprintf("invalid id %q, object does not exist", id))
				}
			}
		}
	}

	if len(v.users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(v.users))
	for id := range v.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	active, err := s.users.ExistIDs(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !active[id] {
			for _, field := range v.users[id] {
				v.errs.Add(field, fmt.Sprintf("invalid user %q", id))
			}
		}
	}
	return nil
}

// validate runs every payload check, including custom fields and the
// existence of referenced rows. The returned error is a ValidationError
// when the payload is invalid.
func (s *RecordService) validate(ctx context.Context, user *auth.UserSession, def *entity.EntityDefinition, payload map[string]interface{}, mode payloadMode) (*validation, error) {
	if payload == nil {
		return nil, appErrors.NewValidationError("", "expected a JSON object")
	}
	v := s.checkPayload(user, def, payload, mode)

	if raw, ok := payload[constants.FieldCustomFields]; ok || mode == modeCreate {
		custom, cerr, err := s.customFields.Parse(ctx, user.TenantID, def.Name, raw, mode == modeCreate)
		if err != nil {
			return nil, err
		}
		v.errs.Merge("", cerr)
		v.custom = custom
	}

	if err := s.resolveRefs(ctx, user.TenantID, v); err != nil {
		return nil, err
	}
	if err := v.errs.OrNil(); err != nil {
		return nil, err
	}
	return v, nil
}
