package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// QueryBuilder assembles a tracker query from individual clauses.
// Clauses are joined with AND in the order they were added.
type QueryBuilder struct {
	clauses []string
	orderBy string
}

// NewQueryBuilder returns an empty builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Project restricts the query to one project key.
func (b *QueryBuilder) Project(key string) *QueryBuilder {
	b.clauses = append(b.clauses, fmt.Sprintf("project = %q", key))
	return b
}

// Raw appends a literal clause.
func (b *QueryBuilder) Raw(clause string) *QueryBuilder {
	if clause = strings.TrimSpace(clause); clause != "" {
		b.clauses = append(b.clauses, clause)
	}
	return b
}

// UpdatedSince restricts the query to records updated at or after the given
// time expression. The expression may be natural language ("2 days ago",
// "last monday") or an absolute date; relative expressions are resolved
// against base.
func (b *QueryBuilder) UpdatedSince(expr string, base time.Time) (*QueryBuilder, error) {
	t, err := ParseTimeExpr(expr, base)
	if err != nil {
		return b, err
	}
	b.clauses = append(b.clauses, fmt.Sprintf("updated >= %q", t.Format("2006-01-02 15:04")))
	return b, nil
}

// OrderBy sets the sort clause, e.g. "updated DESC".
func (b *QueryBuilder) OrderBy(clause string) *QueryBuilder {
	b.orderBy = clause
	return b
}

// String renders the final query.
func (b *QueryBuilder) String() string {
	q := strings.Join(b.clauses, " AND ")
	if b.orderBy != "" {
		if q != "" {
			q += " "
		}
		q += "ORDER BY " + b.orderBy
	}
	return q
}

// ParseTimeExpr resolves a natural-language or absolute time expression
// against the given base time.
func ParseTimeExpr(expr string, base time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	// Absolute dates first; cheaper and unambiguous.
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.Parse(layout, expr); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time expression %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", expr)
	}
	return r.Time, nil
}
