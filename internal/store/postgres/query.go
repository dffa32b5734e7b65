package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// filter accumulates WHERE clauses with positional arguments.
type filter struct {
	clauses []string
	args    []any
}

// add appends cond, where "?" is replaced by the next placeholder.
func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(f.args)), 1))
}

// where renders the WHERE part, or "" when empty.
func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// page appends ORDER BY, LIMIT and OFFSET.
func (f *filter) page(orderBy string, opts domain.ListOpts) string {
	q := " ORDER BY " + orderBy
	if opts.Limit > 0 {
		f.args = append(f.args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(f.args))
	}
	if opts.Offset > 0 {
		f.args = append(f.args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(f.args))
	}
	return q
}

// timeRange adds the Since/Until bounds of opts on column.
func (f *filter) timeRange(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		f.add(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		f.add(column+" <= ?", *opts.Until)
	}
}
