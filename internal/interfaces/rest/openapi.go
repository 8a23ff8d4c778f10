package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/versioning"
)

// Schema is a JSON Schema object as embedded in OpenAPI 3.
type Schema map[string]interface{}

func ref(name string) Schema {
	return Schema{"$ref": "#/components/schemas/" + name}
}

func arrayOf(items Schema) Schema {
	return Schema{"type": "array", "items": items}
}

// Document is the subset of OpenAPI 3.0 the server emits.
type Document struct {
	OpenAPI    string                          `json:"openapi"`
	Info       Info                            `json:"info"`
	Servers    []Server                        `json:"servers,omitempty"`
	Paths      map[string]map[string]Operation `json:"paths"`
	Components Components                      `json:"components"`
	Security   []map[string][]string           `json:"security,omitempty"`
}

type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type Server struct {
	URL string `json:"url"`
}

type Components struct {
	Schemas         map[string]Schema         `json:"schemas"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes"`
}

type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme"`
	BearerFormat string `json:"bearerFormat,omitempty"`
}

type Operation struct {
	Tags        []string            `json:"tags,omitempty"`
	Summary     string              `json:"summary"`
	OperationID string              `json:"operationId"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses"`

	// Security overrides the document default when set; an empty list marks
	// a public operation.
	Security *[]map[string][]string `json:"security,omitempty"`
}

type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Schema      Schema `json:"schema"`
}

type RequestBody struct {
	Required bool                 `json:"required"`
	Content  map[string]MediaType `json:"content"`
}

type MediaType struct {
	Schema Schema `json:"schema"`
}

type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// route is one documented endpoint. Request and Response name component
// schemas; an empty Response documents a data-less envelope.
type route struct {
	Method    string
	Path      string
	Tag       string
	Summary   string
	Request   string
	Response  Schema
	Public    bool
	Created   bool
	Paginated bool
	Params    []Parameter
}

var (
	pathID       = Parameter{Name: "id", In: "path", Required: true, Schema: Schema{"type": "string"}}
	pagingParams = []Parameter{
		{Name: constants.ParamPage, In: "query", Schema: Schema{"type": "integer", "minimum": 1}},
		{Name: constants.ParamPageSize, In: "query", Schema: Schema{"type": "integer", "minimum": 1, "maximum": constants.MaxPageSize}},
	}
)

func staticRoutes() []route {
	return []route{
		{Method: http.MethodPost, Path: "/auth/signup", Tag: "auth", Summary: "Open a tenant with its first admin", Request: "SignupRequest", Response: ref("SignupResult"), Public: true, Created: true},
		{Method: http.MethodPost, Path: "/auth/login", Tag: "auth", Summary: "Exchange credentials for tokens", Request: "LoginRequest", Response: ref("LoginResult"), Public: true},
		{Method: http.MethodPost, Path: "/auth/refresh", Tag: "auth", Summary: "Issue a new access token", Request: "RefreshRequest", Response: ref("RefreshResult"), Public: true},
		{Method: http.MethodPost, Path: "/auth/logout", Tag: "auth", Summary: "Revoke the current session"},
		{Method: http.MethodGet, Path: "/auth/me", Tag: "auth", Summary: "Current user", Response: ref("User")},
		{Method: http.MethodPost, Path: "/auth/change-password", Tag: "auth", Summary: "Change the current user's password", Request: "ChangePasswordRequest"},

		{Method: http.MethodGet, Path: "/users", Tag: "users", Summary: "List tenant users", Response: ref("User"), Paginated: true},
		{Method: http.MethodPost, Path: "/users", Tag: "users", Summary: "Create a user", Request: "CreateUserRequest", Response: ref("User"), Created: true},
		{Method: http.MethodPatch, Path: "/users/{id}", Tag: "users", Summary: "Update a user", Request: "UpdateUserRequest", Response: ref("User"), Params: []Parameter{pathID}},
		{Method: http.MethodDelete, Path: "/users/{id}", Tag: "users", Summary: "Deactivate a user", Params: []Parameter{pathID}},

		{Method: http.MethodGet, Path: "/custom-fields", Tag: "custom-fields", Summary: "List custom field definitions", Response: arrayOf(ref("CustomFieldDefinition")),
			Params: []Parameter{{Name: "entity", In: "query", Schema: Schema{"type": "string"}}}},
		{Method: http.MethodPost, Path: "/custom-fields", Tag: "custom-fields", Summary: "Define a custom field", Request: "DefineCustomFieldRequest", Response: ref("CustomFieldDefinition"), Created: true},
		{Method: http.MethodDelete, Path: "/custom-fields/{id}", Tag: "custom-fields", Summary: "Delete a custom field and its values", Params: []Parameter{pathID}},

		{Method: http.MethodGet, Path: "/audit", Tag: "audit", Summary: "List audit entries", Response: ref("AuditEntry"), Paginated: true,
			Params: []Parameter{
				{Name: "entity_type", In: "query", Schema: Schema{"type": "string"}},
				{Name: "entity_id", In: "query", Schema: Schema{"type": "string"}},
				{Name: "actor_id", In: "query", Schema: Schema{"type": "string"}},
				{Name: "action", In: "query", Schema: Schema{"type": "string"}},
				{Name: "since", In: "query", Schema: Schema{"type": "string", "format": "date-time"}},
			}},

		{Method: http.MethodPost, Path: "/analytics/aggregate", Tag: "analytics", Summary: "Grouped metric over an entity", Request: "AggregateRequest", Response: Schema{"type": "object"}},
		{Method: http.MethodGet, Path: "/analytics/pipeline", Tag: "analytics", Summary: "Opportunities by stage", Response: Schema{"type": "object"}},
		{Method: http.MethodGet, Path: "/analytics/lead-conversion", Tag: "analytics", Summary: "Lead conversion by source", Response: Schema{"type": "object"}},
		{Method: http.MethodGet, Path: "/analytics/task-completion", Tag: "analytics", Summary: "Task completion by owner", Response: Schema{"type": "object"}},
		{Method: http.MethodPost, Path: "/analytics/sql", Tag: "analytics", Summary: "Run a read-only tenant-scoped SELECT (admins)", Request: "SQLRequest", Response: Schema{"type": "object"}},

		{Method: http.MethodGet, Path: "/dashboard/widgets", Tag: "dashboard", Summary: "List the caller's widgets", Response: arrayOf(ref("DashboardWidget"))},
		{Method: http.MethodPost, Path: "/dashboard/widgets", Tag: "dashboard", Summary: "Create a widget", Request: "WidgetRequest", Response: ref("DashboardWidget"), Created: true},
		{Method: http.MethodGet, Path: "/dashboard/widgets/{id}", Tag: "dashboard", Summary: "Get a widget", Response: ref("DashboardWidget"), Params: []Parameter{pathID}},
		{Method: http.MethodPut, Path: "/dashboard/widgets/{id}", Tag: "dashboard", Summary: "Replace a widget", Request: "WidgetRequest", Response: ref("DashboardWidget"), Params: []Parameter{pathID}},
		{Method: http.MethodDelete, Path: "/dashboard/widgets/{id}", Tag: "dashboard", Summary: "Delete a widget", Params: []Parameter{pathID}},
		{Method: http.MethodGet, Path: "/dashboard/widgets/{id}/data", Tag: "dashboard", Summary: "Compute a widget", Response: ref("WidgetData"), Params: []Parameter{pathID}},
		{Method: http.MethodGet, Path: "/dashboard/overview", Tag: "dashboard", Summary: "Compute every widget of the caller", Response: arrayOf(ref("WidgetData"))},

		{Method: http.MethodGet, Path: "/notifications", Tag: "notifications", Summary: "List notifications", Response: ref("Notification"), Paginated: true,
			Params: []Parameter{{Name: "unread", In: "query", Schema: Schema{"type": "boolean"}}}},
		{Method: http.MethodGet, Path: "/notifications/unread-count", Tag: "notifications", Summary: "Count unread notifications", Response: Schema{"type": "object", "properties": Schema{"unread": Schema{"type": "integer"}}}},
		{Method: http.MethodPost, Path: "/notifications/{id}/read", Tag: "notifications", Summary: "Mark a notification as read", Params: []Parameter{pathID}},
		{Method: http.MethodPost, Path: "/notifications/read-all", Tag: "notifications", Summary: "Mark every notification as read", Response: Schema{"type": "object", "properties": Schema{"updated": Schema{"type": "integer"}}}},
		{Method: http.MethodGet, Path: "/ws/notifications", Tag: "notifications", Summary: "WebSocket stream of new notifications",
			Params: []Parameter{{Name: "token", In: "query", Required: true, Description: "access token", Schema: Schema{"type": "string"}}}},

		{Method: http.MethodGet, Path: "/schema", Tag: "meta", Summary: "This document", Public: true},
	}
}

func entityRoutes(def *entity.EntityDefinition) []route {
	base := "/" + def.Name
	item := def.Label
	list := append([]Parameter{
		{Name: constants.ParamSearch, In: "query", Description: "matches " + strings.Join(def.SearchFields, ", "), Schema: Schema{"type": "string"}},
		{Name: constants.ParamOrdering, In: "query", Description: "comma separated, prefix - for descending: " + strings.Join(def.OrderingFields, ", "), Schema: Schema{"type": "string"}},
		{Name: constants.ParamFilter, In: "query", Description: "boolean expression over fields, e.g. amount > 1000 && stage == \"proposal\"", Schema: Schema{"type": "string"}},
		{Name: constants.ParamExpand, In: "query", Description: "comma separated ref fields to inline", Schema: Schema{"type": "string"}},
	}, pagingParams...)
	routes := []route{
		{Method: http.MethodGet, Path: base, Tag: def.Name, Summary: "List " + def.Name, Response: ref(item), Paginated: true, Params: list},
		{Method: http.MethodPost, Path: base, Tag: def.Name, Summary: "Create a " + strings.ToLower(item), Request: item + "Input", Response: ref(item), Created: true},
		{Method: http.MethodGet, Path: base + "/export", Tag: def.Name, Summary: "Export " + def.Name + " as CSV", Params: list[:3]},
		{Method: http.MethodPost, Path: base + "/bulk", Tag: def.Name, Summary: "Create up to " + fmt.Sprint(constants.MaxBulkItems) + " records", Request: item + "BulkInput", Response: ref("BulkResult"), Created: true},
		{Method: http.MethodPost, Path: base + "/bulk-update", Tag: def.Name, Summary: "Apply fields to many records", Request: "BulkUpdateRequest", Response: ref("BulkResult")},
		{Method: http.MethodPost, Path: base + "/bulk-delete", Tag: def.Name, Summary: "Delete many records", Request: "BulkDeleteRequest", Response: ref("BulkResult")},
		{Method: http.MethodGet, Path: base + "/{id}", Tag: def.Name, Summary: "Get a " + strings.ToLower(item), Response: ref(item), Params: []Parameter{pathID}},
		{Method: http.MethodPut, Path: base + "/{id}", Tag: def.Name, Summary: "Replace a " + strings.ToLower(item), Request: item + "Input", Response: ref(item), Params: []Parameter{pathID}},
		{Method: http.MethodPatch, Path: base + "/{id}", Tag: def.Name, Summary: "Update some fields of a " + strings.ToLower(item), Request: item + "Input", Response: ref(item), Params: []Parameter{pathID}},
		{Method: http.MethodDelete, Path: base + "/{id}", Tag: def.Name, Summary: "Delete a " + strings.ToLower(item), Params: []Parameter{pathID}},
		{Method: http.MethodGet, Path: base + "/{id}/history", Tag: def.Name, Summary: "Audit trail of a " + strings.ToLower(item), Response: ref("AuditEntry"), Paginated: true, Params: append([]Parameter{pathID}, pagingParams...)},
	}
	switch def.Name {
	case constants.EntityLeads:
		routes = append(routes, route{Method: http.MethodPost, Path: base + "/{id}/convert", Tag: def.Name, Summary: "Convert a lead into a contact", Request: "ConvertLeadRequest", Response: Schema{"type": "object"}, Params: []Parameter{pathID}})
	case constants.EntityOpportunities:
		routes = append(routes, route{Method: http.MethodPost, Path: base + "/{id}/close", Tag: def.Name, Summary: "Close an opportunity as won or lost", Request: "CloseOpportunityRequest", Response: ref(item), Params: []Parameter{pathID}})
	case constants.EntityTasks:
		routes = append(routes, route{Method: http.MethodPost, Path: base + "/{id}/complete", Tag: def.Name, Summary: "Complete a task", Response: ref(item), Params: []Parameter{pathID}})
	}
	return routes
}

// fieldSchema maps an entity field to its JSON representation.
func fieldSchema(f *entity.FieldDefinition) Schema {
	s := Schema{}
	switch f.Type {
	case entity.FieldString:
		s["type"] = "string"
		s["maxLength"] = f.Limit()
	case entity.FieldText:
		s["type"] = "string"
	case entity.FieldEmail:
		s["type"] = "string"
		s["format"] = "email"
	case entity.FieldInt:
		s["type"] = "integer"
		if f.Min != nil {
			s["minimum"] = *f.Min
		}
		if f.Max != nil {
			s["maximum"] = *f.Max
		}
	case entity.FieldDecimal:
		s["type"] = "string"
		s["format"] = "decimal"
	case entity.FieldBool:
		s["type"] = "boolean"
	case entity.FieldDate:
		s["type"] = "string"
		s["format"] = "date"
	case entity.FieldDateTime:
		s["type"] = "string"
		s["format"] = "date-time"
	case entity.FieldChoice:
		s["type"] = "string"
		s["enum"] = f.Choices
	case entity.FieldRef:
		s["type"] = "string"
		s["description"] = "id of a " + f.Ref + " record"
	case entity.FieldUser:
		s["type"] = "string"
		s["description"] = "id of a user of the tenant"
	case entity.FieldJSON:
		s["type"] = "object"
	}
	if !f.Required {
		s["nullable"] = true
	}
	if f.ReadOnly {
		s["readOnly"] = true
	}
	if f.Default != nil {
		s["default"] = f.Default
	}
	return s
}

func entitySchemas(def *entity.EntityDefinition) (record, input Schema) {
	props := Schema{
		constants.FieldID:        Schema{"type": "string", "readOnly": true},
		constants.FieldTenantID:  Schema{"type": "string", "readOnly": true},
		constants.FieldOwnerID:   Schema{"type": "string", "description": "assignable by managers and admins"},
		constants.FieldCreatedBy: Schema{"type": "string", "readOnly": true},
		constants.FieldCreatedAt: Schema{"type": "string", "format": "date-time", "readOnly": true},
		constants.FieldUpdatedAt: Schema{"type": "string", "format": "date-time", "readOnly": true},
		constants.FieldCustomFields: Schema{"type": "object", "description": "values keyed by custom field key",
			"additionalProperties": true},
	}
	inputProps := Schema{
		constants.FieldOwnerID:      props[constants.FieldOwnerID],
		constants.FieldCustomFields: props[constants.FieldCustomFields],
	}
	var required []string
	for _, f := range def.Fields {
		s := fieldSchema(f)
		props[f.Name] = s
		if f.ReadOnly {
			continue
		}
		inputProps[f.Name] = s
		if f.Required {
			required = append(required, f.Name)
		}
	}
	record = Schema{"type": "object", "properties": props}
	input = Schema{"type": "object", "properties": inputProps}
	if len(required) > 0 {
		input["required"] = required
	}
	return record, input
}

func obj(required []string, props Schema) Schema {
	s := Schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	str      = Schema{"type": "string"}
	integer  = Schema{"type": "integer"}
	boolean  = Schema{"type": "boolean"}
	datetime = Schema{"type": "string", "format": "date-time"}
)

func kindNames() []string {
	out := make([]string, len(models.FieldKinds))
	for i, k := range models.FieldKinds {
		out[i] = string(k)
	}
	return out
}

func commonSchemas() map[string]Schema {
	return map[string]Schema{
		"Error": obj([]string{"success", "message", "code"}, Schema{
			"success": boolean, "message": str, "code": str,
			"errors": Schema{"type": "object", "additionalProperties": arrayOf(str)},
		}),
		"SignupRequest":         obj([]string{"tenant_name", "email", "name", "password"}, Schema{"tenant_name": str, "email": str, "name": str, "password": str}),
		"SignupResult":          obj(nil, Schema{"tenant": ref("Tenant"), "user": ref("User")}),
		"LoginRequest":          obj([]string{"email", "password"}, Schema{"email": str, "password": str}),
		"LoginResult":           obj(nil, Schema{"access_token": str, "refresh_token": str, "token_type": str, "access_expires_at": datetime, "refresh_expires_at": datetime, "user": ref("Principal")}),
		"RefreshRequest":        obj([]string{"refresh_token"}, Schema{"refresh_token": str}),
		"RefreshResult":         obj(nil, Schema{"access_token": str, "token_type": str, "access_expires_at": datetime}),
		"ChangePasswordRequest": obj([]string{"current_password", "new_password"}, Schema{"current_password": str, "new_password": str}),
		"Principal":             obj(nil, Schema{"id": str, "tenant_id": str, "name": str, "email": str, "role": Schema{"type": "string", "enum": constants.Roles}}),
		"Tenant":                obj(nil, Schema{"id": str, "name": str, "slug": str, "plan": str, "is_active": boolean, "created_at": datetime}),
		"User": obj(nil, Schema{"id": str, "tenant_id": str, "email": str, "name": str,
			"role": Schema{"type": "string", "enum": constants.Roles}, "is_active": boolean, "last_login": datetime, "created_at": datetime}),
		"CreateUserRequest": obj([]string{"name", "email", "password", "role"}, Schema{"name": str, "email": str, "password": str,
			"role": Schema{"type": "string", "enum": constants.Roles}}),
		"UpdateUserRequest": obj(nil, Schema{"name": str, "role": Schema{"type": "string", "enum": constants.Roles}, "is_active": boolean}),
		"CustomFieldDefinition": obj(nil, Schema{"id": str, "entity": str, "key": str, "label": str,
			"type": Schema{"type": "string", "enum": kindNames()}, "required": boolean, "created_at": datetime}),
		"DefineCustomFieldRequest": obj([]string{"entity", "key", "type"}, Schema{"entity": str, "key": str, "label": str,
			"type": Schema{"type": "string", "enum": kindNames()}, "required": boolean}),
		"AuditEntry": obj(nil, Schema{"id": str, "ref": obj(nil, Schema{"type": str, "id": str}), "action": str, "actor_id": str,
			"changes": Schema{"type": "object", "additionalProperties": obj(nil, Schema{"old": Schema{}, "new": Schema{}})},
			"ip_address": str, "user_agent": str, "request_id": str, "created_at": datetime}),
		"BulkResult":              obj(nil, Schema{"count": integer, "ids": arrayOf(str)}),
		"BulkUpdateRequest":       obj([]string{"ids", "fields"}, Schema{"ids": arrayOf(str), "fields": Schema{"type": "object"}}),
		"BulkDeleteRequest":       obj([]string{"ids"}, Schema{"ids": arrayOf(str)}),
		"ConvertLeadRequest":      obj(nil, Schema{"create_opportunity": boolean, "opportunity_name": str, "amount": Schema{"type": "string", "format": "decimal"}}),
		"CloseOpportunityRequest": obj([]string{"won"}, Schema{"won": boolean}),
		"AggregateRequest": obj([]string{"entity", "metric"}, Schema{"entity": str,
			"metric": Schema{"type": "string", "enum": []string{"count", "sum", "avg", "min", "max"}},
			"field": str, "group_by": str, "filter": str, "limit": integer}),
		"SQLRequest": obj([]string{"sql"}, Schema{"sql": str}),
		"DashboardWidget": obj(nil, Schema{"id": str, "user_id": str, "title": str,
			"kind": Schema{"type": "string", "enum": []string{"metric", "chart", "list"}}, "config": Schema{"type": "object"},
			"position": integer, "created_at": datetime}),
		"WidgetRequest": obj([]string{"title", "kind", "config"}, Schema{"title": str,
			"kind": Schema{"type": "string", "enum": []string{"metric", "chart", "list"}}, "config": Schema{"type": "object"}, "position": integer}),
		"WidgetData":   obj(nil, Schema{"widget": ref("DashboardWidget"), "data": Schema{}, "error": str}),
		"Notification": obj(nil, Schema{"id": str, "title": str, "body": str, "link": str, "kind": str, "is_read": boolean, "created_at": datetime}),
	}
}

func envelope(data Schema) Schema {
	props := Schema{"success": boolean, "message": str}
	if data != nil {
		props["data"] = data
	}
	return obj([]string{"success", "message"}, props)
}

func pageOf(item Schema) Schema {
	return obj(nil, Schema{
		"count": integer, "page": integer, "page_size": integer, "total_pages": integer,
		"next":     Schema{"type": "string", "nullable": true},
		"previous": Schema{"type": "string", "nullable": true},
		"results":  arrayOf(item),
	})
}

func errorResponse(desc string) Response {
	return Response{Description: desc, Content: map[string]MediaType{constants.ContentTypeJSON: {Schema: ref("Error")}}}
}

func (r route) operation() Operation {
	op := Operation{
		Tags:        []string{r.Tag},
		Summary:     r.Summary,
		OperationID: operationID(r.Method, r.Path),
		Parameters:  r.Params,
		Responses:   map[string]Response{},
	}
	if r.Request != "" {
		op.RequestBody = &RequestBody{Required: true, Content: map[string]MediaType{constants.ContentTypeJSON: {Schema: ref(r.Request)}}}
	}
	status := "200"
	if r.Created {
		status = "201"
	}
	switch {
	case strings.HasSuffix(r.Path, "/export"):
		op.Responses[status] = Response{Description: "CSV file", Content: map[string]MediaType{constants.ContentTypeCSV: {Schema: str}}}
	case strings.HasPrefix(r.Path, "/ws/"):
		op.Responses["101"] = Response{Description: "switching to the WebSocket protocol"}
	case r.Path == "/schema":
		op.Responses[status] = Response{Description: "OpenAPI document", Content: map[string]MediaType{constants.ContentTypeJSON: {Schema: Schema{"type": "object"}}}}
	default:
		data := r.Response
		if r.Paginated {
			data = pageOf(r.Response)
		}
		op.Responses[status] = Response{Description: "success", Content: map[string]MediaType{constants.ContentTypeJSON: {Schema: envelope(data)}}}
	}
	op.Responses["400"] = errorResponse("invalid request")
	if r.Public {
		op.Security = &[]map[string][]string{}
	} else {
		op.Responses["401"] = errorResponse("missing or invalid token")
		op.Responses["403"] = errorResponse("not allowed for the caller's role")
	}
	if strings.Contains(r.Path, "{id}") {
		op.Responses["404"] = errorResponse("not found in the caller's tenant")
	}
	op.Responses["429"] = errorResponse("throttled")
	return op
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, part := range strings.Split(path, "/") {
		part = strings.Trim(part, "{}")
		for _, word := range strings.FieldsFunc(part, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(strings.ToUpper(word[:1]) + word[1:])
		}
	}
	return b.String()
}

// OpenAPI builds the API description from the entity registry and the
// static route table.
func OpenAPI(registry *entity.Registry, serverURL string) *Document {
	doc := &Document{
		OpenAPI: "3.0.3",
		Info:    Info{Title: "CRM API", Version: versioning.Current.String()},
		Paths:   map[string]map[string]Operation{},
		Components: Components{
			Schemas: commonSchemas(),
			SecuritySchemes: map[string]SecurityScheme{
				"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
			},
		},
		Security: []map[string][]string{{"bearerAuth": {}}},
	}
	doc.Servers = []Server{{URL: strings.TrimSuffix(serverURL, "/") + constants.APIPrefix}}

	routes := staticRoutes()
	for _, def := range registry.All() {
		record, input := entitySchemas(def)
		doc.Components.Schemas[def.Label] = record
		doc.Components.Schemas[def.Label+"Input"] = input
		doc.Components.Schemas[def.Label+"BulkInput"] = Schema{"type": "array", "items": ref(def.Label + "Input"), "maxItems": constants.MaxBulkItems}
		routes = append(routes, entityRoutes(def)...)
	}
	for _, r := range routes {
		item, ok := doc.Paths[r.Path]
		if !ok {
			item = map[string]Operation{}
			doc.Paths[r.Path] = item
		}
		item[strings.ToLower(r.Method)] = r.operation()
	}
	return doc
}
