package condition

import "strings"

// Operator is a comparison operator tag. Case-insensitive variants carry a
// trailing "*".
type Operator string

const (
	Eq      Operator = "eq"
	Ne      Operator = "ne"
	Gt      Operator = "gt"
	Gte     Operator = "gte"
	Lt      Operator = "lt"
	Lte     Operator = "lte"
	In      Operator = "in"
	NotIn   Operator = "notin"
	IsNull  Operator = "isnull"
	NotNull Operator = "notnull"
	Between Operator = "between"
	Cont    Operator = "cont"
	Excl    Operator = "excl"
	Starts  Operator = "starts"
	Ends    Operator = "ends"

	EqFold     Operator = "eq*"
	NeFold     Operator = "ne*"
	InFold     Operator = "in*"
	NotInFold  Operator = "notin*"
	ContFold   Operator = "cont*"
	ExclFold   Operator = "excl*"
	StartsFold Operator = "starts*"
	EndsFold   Operator = "ends*"
)

// Arity describes the value an operator expects.
type Arity int

const (
	// Scalar operators take exactly one non-array value.
	Scalar Arity = iota
	// List operators take an array of at least one value.
	List
	// Pair operators take an array of exactly two values.
	Pair
	// Nullary operators take no value.
	Nullary
)

func (a Arity) String() string {
	switch a {
	case Scalar:
		return "a single value"
	case List:
		return "a non-empty array"
	case Pair:
		return "an array of exactly 2 values"
	case Nullary:
		return "no value"
	default:
		return "unknown"
	}
}

var arities = map[Operator]Arity{
	Eq:         Scalar,
	Ne:         Scalar,
	Gt:         Scalar,
	Gte:        Scalar,
	Lt:         Scalar,
	Lte:        Scalar,
	In:         List,
	NotIn:      List,
	IsNull:     Nullary,
	NotNull:    Nullary,
	Between:    Pair,
	Cont:       Scalar,
	Excl:       Scalar,
	Starts:     Scalar,
	Ends:       Scalar,
	EqFold:     Scalar,
	NeFold:     Scalar,
	InFold:     List,
	NotInFold:  List,
	ContFold:   Scalar,
	ExclFold:   Scalar,
	StartsFold: Scalar,
	EndsFold:   Scalar,
}

// Operators lists every known operator in a stable order.
func Operators() []Operator {
	return []Operator{
		Eq, Ne, Gt, Gte, Lt, Lte, In, NotIn, IsNull, NotNull, Between,
		Cont, Excl, Starts, Ends,
		EqFold, NeFold, InFold, NotInFold, ContFold, ExclFold, StartsFold, EndsFold,
	}
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	_, ok := arities[op]
	return ok
}

// Arity returns the value contract of op. Unknown operators report Scalar.
func (op Operator) Arity() Arity {
	return arities[op]
}

// CaseInsensitive reports whether op is a "*" variant.
func (op Operator) CaseInsensitive() bool {
	return strings.HasSuffix(string(op), "*")
}

// Base strips the case-insensitive marker.
func (op Operator) Base() Operator {
	return Operator(strings.TrimSuffix(string(op), "*"))
}

// ParseOperator resolves an operator name as it appears on the wire. Besides
// the canonical names it accepts a leading "$" ("$eq") and the "L" suffix for
// case-insensitive variants ("$contL" is "cont*").
func ParseOperator(s string) (Operator, bool) {
	s = strings.TrimPrefix(s, "$")
	if op := Operator(s); op.Valid() {
		return op, true
	}
	if base, ok := strings.CutSuffix(s, "L"); ok {
		if op := Operator(base + "*"); op.Valid() {
			return op, true
		}
	}
	return "", false
}
