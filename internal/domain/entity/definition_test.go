package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRMRegistry(t *testing.T) {
	r := NewCRMRegistry()
	require.Len(t, r.All(), 6)

	contacts, ok := r.Get("contacts")
	require.True(t, ok)
	assert.Equal(t, "contacts", contacts.Table)
	assert.True(t, contacts.HasColumn("tenant_id"))
	assert.True(t, contacts.HasColumn("company_id"))
	assert.False(t, contacts.HasColumn("password"))

	_, ok = r.Get("invoices")
	assert.False(t, ok)

	// every ordering and search field must exist
	for _, d := range r.All() {
		for _, f := range append(append([]string{}, d.OrderingFields...), d.SearchFields...) {
			assert.True(t, d.HasColumn(f), "%s.%s", d.Name, f)
		}
		for _, f := range d.RefFields() {
			_, ok := r.Get(f.Ref)
			assert.True(t, ok, "%s.%s targets %s", d.Name, f.Name, f.Ref)
		}
	}
}

func TestReferencesTo(t *testing.T) {
	r := NewCRMRegistry()

	refs := r.ReferencesTo("companies")
	require.Len(t, refs, 2)
	assert.Equal(t, "contacts", refs[0].Entity.Name)
	assert.Equal(t, SetNull, refs[0].Field.OnDelete)
	assert.Equal(t, "opportunities", refs[1].Entity.Name)
	assert.Equal(t, Cascade, refs[1].Field.OnDelete)

	refs = r.ReferencesTo("contacts")
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Entity.Name+"."+ref.Field.Name)
	}
	assert.Equal(t, []string{"leads.converted_contact_id", "opportunities.contact_id", "tasks.contact_id"}, names)

	refs = r.ReferencesTo("campaigns")
	require.Len(t, refs, 1)
	assert.Equal(t, Restrict, refs[0].Field.OnDelete)
}

func TestDecode(t *testing.T) {
	r := NewCRMRegistry()
	opps, _ := r.Get("opportunities")

	rec := opps.Decode(models.Record{
		"id":                  "o1",
		"amount":              "1250.50",
		"probability":         []byte("40"),
		"expected_close_date": time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		"created_at":          "2024-01-02 03:04:05",
		"description":         nil,
	})

	assert.True(t, decimal.RequireFromString("1250.5").Equal(rec["amount"].(decimal.Decimal)))
	assert.Equal(t, int64(40), rec["probability"])
	assert.Equal(t, "2024-06-30", rec["expected_close_date"])
	assert.IsType(t, time.Time{}, rec["created_at"])
	assert.Nil(t, rec["description"])
}

func TestDecodeJSON(t *testing.T) {
	d := &EntityDefinition{Name: "things", Fields: []*FieldDefinition{{Name: "meta", Type: FieldJSON}}}
	NewRegistry(d)
	rec := d.Decode(models.Record{"meta": `{"a":1}`})
	assert.Equal(t, json.RawMessage(`{"a":1}`), rec["meta"])
}
