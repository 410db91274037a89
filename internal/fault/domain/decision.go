package domain

// Decision represents the outcome of evaluating a hostname against the denylist.
// Pure value type, no external dependencies.
type Decision struct {
	Denied  bool   // true if the hostname matched a deny pattern
	Pattern string // the deny pattern that matched (first match wins)
}

// IsDenied is a convenience accessor.
func (d Decision) IsDenied() bool { return d.Denied }

// Allowed returns a not-denied decision.
func Allowed() Decision { return Decision{} }

// DeniedBy returns a denied decision recording the matching pattern.
func DeniedBy(pattern string) Decision {
	return Decision{Denied: true, Pattern: pattern}
}
