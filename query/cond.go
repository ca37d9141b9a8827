package query

import "github.com/entitymapper/entitymapper/errs"

// Connector joins one WHERE/GROUP element to the element before it.
type Connector int

const (
	ConnNone Connector = iota
	ConnAnd
	ConnOr
	ConnAndNot
	ConnOrNot
)

type condNode struct {
	connector Connector
	field     string
	op        string
	value     any
	hasValue  bool
	group     *Cond // non-nil => parenthesized nested group
}

// Cond is a composable, ordered list of WHERE elements: either simple
// `field op value` leaves or parenthesized nested groups, each carrying the
// connector (AND/OR/AND NOT/OR NOT) that joins it to its predecessor. The
// same type models both the builder's top-level WHERE list and any nested
// group passed to AndGroup/OrGroup (§4.4).
type Cond struct {
	nodes []*condNode
	err   error
}

func parseArgs(args []any) (op string, value any, hasValue bool) {
	switch len(args) {
	case 0:
		return "=", nil, false
	case 1:
		return "=", args[0], true
	default:
		if s, ok := args[0].(string); ok {
			return s, args[1], true
		}
		return "=", args[0], true
	}
}

func (c *Cond) add(connector Connector, field string, args ...any) *Cond {
	if c.err != nil {
		return c
	}
	if connector == ConnNone && len(c.nodes) > 0 {
		c.err = errs.Queryf("query.Cond", "WHERE element without a connector cannot follow another element; use And/Or/AndNot/OrNot")
		return c
	}
	op, value, hasValue := parseArgs(args)
	c.nodes = append(c.nodes, &condNode{connector: connector, field: field, op: op, value: value, hasValue: hasValue})
	return c
}

// Where adds the first (or only) condition: field = value, or field op value
// when args is (op, value). Re-issuing Where after another element has
// already been added is rejected (§4.4) — use And/Or/AndNot/OrNot instead.
func (c *Cond) Where(field string, args ...any) *Cond { return c.add(ConnNone, field, args...) }

func (c *Cond) And(field string, args ...any) *Cond { return c.add(ConnAnd, field, args...) }

func (c *Cond) Or(field string, args ...any) *Cond { return c.add(ConnOr, field, args...) }

func (c *Cond) AndNot(field string, args ...any) *Cond { return c.add(ConnAndNot, field, args...) }

func (c *Cond) OrNot(field string, args ...any) *Cond { return c.add(ConnOrNot, field, args...) }

func (c *Cond) group2(connector Connector, fn func(*Cond)) *Cond {
	if c.err != nil {
		return c
	}
	if connector == ConnNone && len(c.nodes) > 0 {
		c.err = errs.Queryf("query.Cond", "WHERE group without a connector cannot follow another element")
		return c
	}
	child := &Cond{}
	fn(child)
	if child.err != nil {
		c.err = child.err
		return c
	}
	c.nodes = append(c.nodes, &condNode{connector: connector, group: child})
	return c
}

// Group adds a parenthesized nested group as the first element.
func (c *Cond) Group(fn func(*Cond)) *Cond { return c.group2(ConnNone, fn) }

// AndGroup adds a parenthesized nested group joined with AND.
func (c *Cond) AndGroup(fn func(*Cond)) *Cond { return c.group2(ConnAnd, fn) }

// OrGroup adds a parenthesized nested group joined with OR.
func (c *Cond) OrGroup(fn func(*Cond)) *Cond { return c.group2(ConnOr, fn) }

// Empty reports whether no condition has been added.
func (c *Cond) Empty() bool { return len(c.nodes) == 0 }
