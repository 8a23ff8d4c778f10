package pagination

import (
	"net/url"
	"strconv"

	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
)

// Params is a validated page request.
type Params struct {
	Page     int
	PageSize int
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Parse reads page and page_size from query values.
func Parse(values url.Values) (Params, error) {
	p := Params{Page: 1, PageSize: constants.DefaultPageSize}
	verr := appErrors.NewFieldErrors("invalid pagination parameters")

	if raw := values.Get(constants.ParamPage); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add(constants.ParamPage, "must be a positive integer")
		} else {
			p.Page = n
		}
	}
	if raw := values.Get(constants.ParamPageSize); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n < 1:
			verr.Add(constants.ParamPageSize, "must be a positive integer")
		case n > constants.MaxPageSize:
			verr.Add(constants.ParamPageSize, "must not exceed "+strconv.Itoa(constants.MaxPageSize))
		default:
			p.PageSize = n
		}
	}
	if err := verr.OrNil(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Page is the response body of every paginated listing.
type Page[T any] struct {
	Count      int     `json:"count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
	Next       *string `json:"next"`
	Previous   *string `json:"previous"`
	Results    []T     `json:"results"`
}

// New builds a page; base is the absolute request URL whose other query
// parameters are preserved in next/previous links. A nil base leaves links empty.
func New[T any](results []T, count int, p Params, base *url.URL) *Page[T] {
	if results == nil {
		results = []T{}
	}
	totalPages := 0
	if count > 0 {
		totalPages = (count + p.PageSize - 1) / p.PageSize
	}
	page := &Page[T]{
		Count:      count,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: totalPages,
		Results:    results,
	}
	if base == nil {
		return page
	}
	if p.Page < totalPages {
		page.Next = link(base, p.Page+1)
	}
	if p.Page > 1 {
		prev := p.Page - 1
		if totalPages > 0 && prev > totalPages {
			prev = totalPages
		}
		page.Previous = link(base, prev)
	}
	return page
}

func link(base *url.URL, page int) *string {
	u := *base
	q := u.Query()
	if page == 1 {
		q.Del(constants.ParamPage)
	} else {
		q.Set(constants.ParamPage, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}
