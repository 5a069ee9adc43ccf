package model

import (
	"github.com/roach88/treesync/internal/attr"
)

// Kind declares shared behaviour for a family of records: whether their
// controllers subscribe by default, attribute defaults and member ordering.
type Kind struct {
	Name string

	// AutoSync, when set, overrides the global default mode for controllers
	// bound to records or collections of this kind.
	AutoSync *bool

	// Defaults fill attributes that are missing once a record has been
	// synced.
	Defaults map[string]any

	// OrderBy sorts collection members by this attribute, then by id.
	// Ignored when Comparator is set.
	OrderBy string

	// Comparator orders collection members. Without Comparator or OrderBy
	// members keep insertion order.
	Comparator func(a, b *Record) int
}

// Sorted reports whether collections of this kind keep members sorted.
func (k *Kind) Sorted() bool {
	return k.Comparator != nil || k.OrderBy != ""
}

// Bool returns a pointer to b, for Kind.AutoSync literals.
func Bool(b bool) *bool {
	return &b
}

// DefaultKind is used for records and collections created without a kind.
var DefaultKind = &Kind{Name: "record"}

func kindOrDefault(k *Kind) *Kind {
	if k == nil {
		return DefaultKind
	}
	return k
}

// Compare orders two records.
func (k *Kind) Compare(a, b *Record) int {
	if k.Comparator != nil {
		return k.Comparator(a, b)
	}
	if k.OrderBy != "" {
		av, _ := a.Get(k.OrderBy)
		bv, _ := b.Get(k.OrderBy)
		if c := compareValues(av, bv); c != 0 {
			return c
		}
	}
	return attr.CompareKeys(a.ID(), b.ID())
}

// compareValues orders nil before numbers before strings before anything
// else; values of other types compare by canonical JSON.
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case int64, float64:
		fa, fb := toFloat(av), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case string:
		return attr.CompareKeys(av, b.(string))
	case nil:
		return 0
	}
	ja, _ := attr.MarshalCanonical(a)
	jb, _ := attr.MarshalCanonical(b)
	return attr.CompareKeys(string(ja), string(jb))
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
