package database

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

type profileKey struct{}

// StatementStats aggregates executions of one normalized statement.
type StatementStats struct {
	SQL   string
	Count int
	Total time.Duration
}

// SlowQuery is a single execution above the slow threshold.
type SlowQuery struct {
	SQL      string
	Duration time.Duration
}

// Profile collects the statements executed while serving one request.
// It may be shared by goroutines fanned out from the request.
type Profile struct {
	mu            sync.Mutex
	slowThreshold time.Duration
	count         int
	total         time.Duration
	statements    map[string]*StatementStats
	slow          []SlowQuery
}

func NewProfile(slowThreshold time.Duration) *Profile {
	return &Profile{
		slowThreshold: slowThreshold,
		statements:    make(map[string]*StatementStats),
	}
}

// WithProfile attaches p to ctx; every DB or Tx call made with the
// returned context is recorded into it.
func WithProfile(ctx context.Context, p *Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

func ProfileFrom(ctx context.Context) *Profile {
	p, _ := ctx.Value(profileKey{}).(*Profile)
	return p
}

func (p *Profile) Record(query string, d time.Duration) {
	norm := Normalize(query)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	p.total += d
	st, ok := p.statements[norm]
	if !ok {
		st = &StatementStats{SQL: norm}
		p.statements[norm] = st
	}
	st.Count++
	st.Total += d
	if p.slowThreshold > 0 && d >= p.slowThreshold {
		p.slow = append(p.slow, SlowQuery{SQL: norm, Duration: d})
	}
}

func (p *Profile) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Profile) Total() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Repeated returns the statements executed at least threshold times,
// most frequent first. These are the N+1 suspects.
func (p *Profile) Repeated(threshold int) []StatementStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []StatementStats
	for _, st := range p.statements {
		if st.Count >= threshold {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SQL < out[j].SQL
	})
	return out
}

func (p *Profile) Slow() []SlowQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SlowQuery(nil), p.slow...)
}

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^'\\]|\\.|'')*'`)
	numberLiteralRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	inListRe        = regexp.MustCompile(`(?i)\bIN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)`)
	valuesRe        = regexp.MustCompile(`(?i)\bVALUES\s*(\([^()]*\))(?:\s*,\s*\([^()]*\))*`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Normalize reduces a statement to its shape so that executions differing
// only in literals, IN-list length or VALUES row count compare equal.
func Normalize(query string) string {
	s := stringLiteralRe.ReplaceAllString(query, "?")
	s = numberLiteralRe.ReplaceAllString(s, "?")
	s = inListRe.ReplaceAllString(s, "IN (?+)")
	s = valuesRe.ReplaceAllString(s, "VALUES $1+")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
