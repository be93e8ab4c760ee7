package model

import "slices"

// TypeFilter decides which tab types are eligible for archiving. OFFICIAL tabs
// are never eligible; an empty filter admits every other type.
type TypeFilter struct {
	allowed map[TabType]struct{}
}

// NewTypeFilter builds a filter from user-supplied labels. Labels are matched
// case-insensitively and site aliases are normalised.
func NewTypeFilter(labels []string) TypeFilter {
	f := TypeFilter{}
	for _, label := range labels {
		t := ParseTabType(label)
		if t == TypeUnknown {
			continue
		}
		if f.allowed == nil {
			f.allowed = make(map[TabType]struct{})
		}
		f.allowed[t] = struct{}{}
	}
	return f
}

// Allows reports whether tabs of type t pass the filter.
func (f TypeFilter) Allows(t TabType) bool {
	if t == TypeOfficial {
		return false
	}
	if len(f.allowed) == 0 {
		return true
	}
	_, ok := f.allowed[t]
	return ok
}

// Types lists the admitted types in sorted order; nil means all.
func (f TypeFilter) Types() []TabType {
	if len(f.allowed) == 0 {
		return nil
	}
	out := make([]TabType, 0, len(f.allowed))
	for t := range f.allowed {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
