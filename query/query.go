// Package query implements a small filter language over stored clusters.
//
// A query selects, filters and orders the clusters inside a session's time
// range:
//
//	count
//	where n >= 10 and type = micro
//	where radius < 2.5 sort by lat desc
//	count where ct >= 2024-05-01T00:00:00Z
//
// Fields: id, radius, n, ct (creation time), lat (last absorption time),
// type (micro or super). Comparisons: = != < <= > >=, joined with "and".
// Time values are RFC 3339 or Unix milliseconds.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/streamclust/feature"
)

// ErrSyntax is returned for queries that do not parse.
var ErrSyntax = errors.New("query syntax error")

// Op is a comparison operator.
type Op string

// Comparison operators of the filter language.
const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindTime
)

var fields = map[string]fieldKind{
	"id":     kindString,
	"type":   kindString,
	"radius": kindNumber,
	"n":      kindNumber,
	"ct":     kindTime,
	"lat":    kindTime,
}

// Condition is one compiled field comparison.
type Condition struct {
	Field string
	Op    Op

	kind fieldKind
	str  string
	num  float64
}

// Query is a parsed query.
type Query struct {
	// CountOnly reports that only the number of matches is wanted.
	CountOnly bool

	// Conditions are AND-combined filters; empty matches everything.
	Conditions []Condition

	// SortField orders the result when non-empty.
	SortField string

	// SortDesc inverts the sort order.
	SortDesc bool
}

// Parse compiles a query string.
func Parse(input string) (*Query, error) {
	p := &parser{tokens: strings.Fields(strings.ToLower(input))}

	q := &Query{}

	if p.accept("count") {
		q.CountOnly = true
	}

	if p.accept("where") {
		for {
			cond, err := p.condition()
			if err != nil {
				return nil, err
			}

			q.Conditions = append(q.Conditions, *cond)

			if !p.accept("and") {
				break
			}
		}
	}

	if p.accept("sort") {
		if !p.accept("by") {
			return nil, fmt.Errorf("%w: expected %q after %q", ErrSyntax, "by", "sort")
		}

		field := p.next()
		if _, ok := fields[field]; !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", ErrSyntax, field)
		}

		q.SortField = field

		switch {
		case p.accept("desc"):
			q.SortDesc = true
		case p.accept("asc"):
		}
	}

	if tok := p.next(); tok != "" {
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok)
	}

	return q, nil
}

// Match reports whether the cluster satisfies every condition.
func (q *Query) Match(cf *feature.ClusterFeature) bool {
	for i := range q.Conditions {
		if !q.Conditions[i].match(cf) {
			return false
		}
	}

	return true
}

// Less orders two clusters by the query's sort field. It reports false when
// the query has no sort clause.
func (q *Query) Less(a, b *feature.ClusterFeature) bool {
	if q.SortField == "" {
		return false
	}

	if q.SortDesc {
		a, b = b, a
	}

	if fields[q.SortField] == kindString {
		return stringField(a, q.SortField) < stringField(b, q.SortField)
	}

	return numberField(a, q.SortField) < numberField(b, q.SortField)
}

func (c *Condition) match(cf *feature.ClusterFeature) bool {
	if c.kind == kindString {
		got := stringField(cf, c.Field)

		switch c.Op {
		case OpEq:
			return got == c.str
		case OpNe:
			return got != c.str
		}

		return false
	}

	got := numberField(cf, c.Field)

	switch c.Op {
	case OpEq:
		return got == c.num
	case OpNe:
		return got != c.num
	case OpLt:
		return got < c.num
	case OpLe:
		return got <= c.num
	case OpGt:
		return got > c.num
	case OpGe:
		return got >= c.num
	}

	return false
}

func stringField(cf *feature.ClusterFeature, field string) string {
	switch field {
	case "id":
		return cf.ID
	case "type":
		if cf.IsSuper() {
			return "super"
		}

		return "micro"
	}

	return ""
}

func numberField(cf *feature.ClusterFeature, field string) float64 {
	switch field {
	case "radius":
		return cf.Radius()
	case "n":
		return cf.Count
	case "ct":
		return float64(cf.CreatedAt)
	case "lat":
		return float64(cf.LastAbsorbed)
	}

	return 0
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) next() string {
	if p.pos >= len(p.tokens) {
		return ""
	}

	tok := p.tokens[p.pos]
	p.pos++

	return tok
}

func (p *parser) accept(keyword string) bool {
	if p.pos < len(p.tokens) && p.tokens[p.pos] == keyword {
		p.pos++
		return true
	}

	return false
}

func (p *parser) condition() (*Condition, error) {
	field := p.next()

	kind, ok := fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrSyntax, field)
	}

	op := Op(p.next())
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
	}

	if kind == kindString && op != OpEq && op != OpNe {
		return nil, fmt.Errorf("%w: operator %q not valid for field %q", ErrSyntax, op, field)
	}

	value := p.next()
	if value == "" {
		return nil, fmt.Errorf("%w: missing value for field %q", ErrSyntax, field)
	}

	cond := &Condition{Field: field, Op: op, kind: kind}

	switch kind {
	case kindString:
		cond.str = value
	case kindNumber:
		num, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrSyntax, value)
		}

		cond.num = num
	case kindTime:
		num, err := parseTime(value)
		if err != nil {
			return nil, err
		}

		cond.num = num
	}

	return cond, nil
}

// parseTime accepts an RFC 3339 timestamp or raw Unix milliseconds.
func parseTime(value string) (float64, error) {
	// Keywords are lowercased before parsing; RFC 3339 markers are not
	// case-sensitive either.
	if ts, err := time.Parse(time.RFC3339, strings.ToUpper(value)); err == nil {
		return float64(ts.UnixMilli()), nil
	}

	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return float64(ms), nil
	}

	return 0, fmt.Errorf("%w: %q is not a timestamp", ErrSyntax, value)
}
