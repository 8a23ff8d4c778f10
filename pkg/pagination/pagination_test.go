package pagination

import (
	"net/url"
	"testing"

	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	p, err := Parse(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, Params{Page: 1, PageSize: 25}, p)
	assert.Equal(t, 0, p.Offset())
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"page=0", "page=abc", "page_size=101", "page_size=-1"} {
		values, _ := url.ParseQuery(raw)
		_, err := Parse(values)
		assert.True(t, appErrors.IsValidation(err), raw)
	}
}

func TestNewBuildsLinks(t *testing.T) {
	base, _ := url.Parse("http://api.test/api/v1/contacts?status=active&page=2&page_size=10")
	p := Params{Page: 2, PageSize: 10}

	page := New([]int{11, 12}, 35, p, base)
	assert.Equal(t, 4, page.TotalPages)
	require.NotNil(t, page.Next)
	require.NotNil(t, page.Previous)
	assert.Equal(t, "http://api.test/api/v1/contacts?page=3&page_size=10&status=active", *page.Next)
	assert.Equal(t, "http://api.test/api/v1/contacts?page_size=10&status=active", *page.Previous)
}

func TestNewAtEnds(t *testing.T) {
	base, _ := url.Parse("http://api.test/api/v1/leads")

	page := New[int](nil, 0, Params{Page: 1, PageSize: 25}, base)
	assert.Nil(t, page.Next)
	assert.Nil(t, page.Previous)
	assert.Equal(t, 0, page.TotalPages)
	assert.NotNil(t, page.Results)

	page = New([]int{1}, 26, Params{Page: 2, PageSize: 25}, base)
	assert.Nil(t, page.Next)
	assert.NotNil(t, page.Previous)
}
