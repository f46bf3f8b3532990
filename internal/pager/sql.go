package pager

import "fmt"

// WhereAfter emits a Postgres row-value predicate positioning strictly after a
// keyset position under the given order. argIndex is the placeholder number of
// the first of the two bind arguments (key value, key id); valueCast and
// idCast, when non-empty, are appended to the placeholders (e.g.
// "::timestamptz", "::bigint") so string-carried key parts compare with the
// column's native type.
func WhereAfter(o Order, argIndex int, valueCast, idCast string) string {
	op := ">"
	if o.Descending {
		op = "<"
	}
	return fmt.Sprintf("(%s, %s) %s ($%d%s, $%d%s)",
		o.Column, o.IDColumn, op, argIndex, valueCast, argIndex+1, idCast)
}

// OrderClause emits the ORDER BY clause matching the composite order.
func OrderClause(o Order) string {
	dir := "ASC"
	if o.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, %s %s", o.Column, dir, o.IDColumn, dir)
}
