package services

import (
	"testing"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPayloadCreateDefaultsAndRequired(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityOpportunities)

	v := svc.checkPayload(adminSession(), def, map[string]interface{}{
		"amount":    "1999.5",
		"closed_at": "2024-01-01T00:00:00Z",
		"id":        "ignored",
	}, modeCreate)

	assert.Equal(t, []string{msgRequired}, v.errs.Fields["name"])
	assert.Equal(t, "prospecting", v.clean["stage"])
	assert.Equal(t, int64(10), v.clean["probability"])
	assert.True(t, decimal.RequireFromString("1999.50").Equal(v.clean["amount"].(decimal.Decimal)))
	assert.NotContains(t, v.clean, "closed_at", "read-only fields are ignored")
	assert.NotContains(t, v.clean, "id")
}

func TestCheckPayloadPartialSkipsRequired(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityContacts)

	v := svc.checkPayload(adminSession(), def, map[string]interface{}{"email": " Ada@Example.COM "}, modePartial)
	require.False(t, v.errs.HasErrors())
	assert.Equal(t, "ada@example.com", v.clean["email"])
	assert.NotContains(t, v.clean, "status", "defaults only apply on create")
}

func TestCheckPayloadReplaceReportsMissing(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityContacts)

	v := svc.checkPayload(adminSession(), def, map[string]interface{}{"first_name": "Ada"}, modeReplace)
	assert.Contains(t, v.errs.Fields, "last_name")
	assert.NotContains(t, v.clean, "status")
}

func TestCheckPayloadFieldErrors(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityLeads)

	v := svc.checkPayload(adminSession(), def, map[string]interface{}{
		"last_name":   "   ",
		"score":       float64(101),
		"status":      "hot",
		"email":       "not-an-email",
		"campaign_id": "abc",
		"nickname":    "x",
	}, modeCreate)

	assert.Equal(t, []string{msgBlank}, v.errs.Fields["last_name"])
	assert.Equal(t, []string{"ensure this value is less than or equal to 100"}, v.errs.Fields["score"])
	assert.Equal(t, []string{`"hot" is not a valid choice`}, v.errs.Fields["status"])
	assert.Equal(t, []string{"enter a valid email address"}, v.errs.Fields["email"])
	assert.Equal(t, []string{"must be a valid id"}, v.errs.Fields["campaign_id"])
	assert.Equal(t, []string{msgUnknown}, v.errs.Fields["nickname"])
}

func TestCheckPayloadCollectsReferences(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityTasks)

	v := svc.checkPayload(adminSession(), def, map[string]interface{}{
		"title":       "Follow up",
		"contact_id":  repID,
		"assigned_to": otherRepID,
	}, modeCreate)

	require.False(t, v.errs.HasErrors())
	assert.Equal(t, []string{"contact_id"}, v.refs[constants.EntityContacts][repID])
	assert.Equal(t, []string{"assigned_to"}, v.users[otherRepID])
}

func TestCheckPayloadOwnerAssignment(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityCompanies)
	payload := map[string]interface{}{"name": "Acme", constants.FieldOwnerID: otherRepID}

	v := svc.checkPayload(repSession(), def, payload, modeCreate)
	assert.Equal(t, []string{"you cannot assign records to other users"}, v.errs.Fields[constants.FieldOwnerID])

	v = svc.checkPayload(adminSession(), def, payload, modeCreate)
	require.False(t, v.errs.HasErrors())
	assert.Equal(t, otherRepID, v.clean[constants.FieldOwnerID])
}

func TestCoerce(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	opps := definitionOf(t, constants.EntityOpportunities)
	tasks := definitionOf(t, constants.EntityTasks)
	field := func(def *entity.EntityDefinition, name string) *entity.FieldDefinition {
		f, ok := def.Field(name)
		require.True(t, ok, name)
		return f
	}

	amount := field(opps, "amount")
	_, msg := svc.coerce(amount, "1.234")
	assert.Equal(t, "ensure that there are no more than 2 decimal places", msg)
	_, msg = svc.coerce(amount, "12345678901234.5")
	assert.Contains(t, msg, "digits before the decimal point")
	val, msg := svc.coerce(amount, float64(12.1))
	assert.Empty(t, msg)
	assert.Equal(t, "12.1", val.(decimal.Decimal).String())

	probability := field(opps, "probability")
	_, msg = svc.coerce(probability, float64(1.5))
	assert.Equal(t, "a valid integer is required", msg)
	_, msg = svc.coerce(probability, "50")
	assert.Equal(t, "a valid integer is required", msg)

	due := field(tasks, "due_date")
	val, msg = svc.coerce(due, "2024-02-29")
	assert.Empty(t, msg)
	assert.Equal(t, "2024-02-29", val)
	_, msg = svc.coerce(due, "2023-02-29")
	assert.NotEmpty(t, msg)

	description := field(tasks, "description")
	val, msg = svc.coerce(description, `<b>hi</b><script>alert(1)</script>`)
	assert.Empty(t, msg)
	assert.Equal(t, "<b>hi</b>", val)

	title := field(tasks, "title")
	_, msg = svc.coerce(title, nil)
	assert.Equal(t, msgNull, msg)
}
