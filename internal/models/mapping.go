package models

// ResolvedKind tags the variant of a ResolvedValue.
type ResolvedKind string

const (
	ResolvedSimple    ResolvedKind = "simple"    // plain string for text-like fields
	ResolvedSelection ResolvedKind = "selection" // displayed text of a dropdown option
	ResolvedCheck     ResolvedKind = "check"     // boolean decision with reason
	ResolvedGenerated ResolvedKind = "generated" // long-form generated prose
	ResolvedSkip      ResolvedKind = "skip"      // deliberately not filled
)

// ResolvedValue is the value resolved for one field. It is a tagged union:
// only the fields relevant to Kind are meaningful.
type ResolvedValue struct {
	Kind     ResolvedKind `json:"kind"`
	Value    string       `json:"value,omitempty"`
	Decision bool         `json:"decision,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Simple returns a plain-string resolution.
func Simple(v string) ResolvedValue {
	return ResolvedValue{Kind: ResolvedSimple, Value: v}
}

// Selection returns a dropdown-option resolution by displayed text.
func Selection(optionText string) ResolvedValue {
	return ResolvedValue{Kind: ResolvedSelection, Value: optionText}
}

// Check returns a boolean decision with its reason.
func Check(decision bool, reason string) ResolvedValue {
	return ResolvedValue{Kind: ResolvedCheck, Decision: decision, Reason: reason}
}

// Generated returns long-form generated prose for a textarea.
func Generated(text string) ResolvedValue {
	return ResolvedValue{Kind: ResolvedGenerated, Value: text}
}

// SkipValue marks a field deliberately unfilled.
func SkipValue(reason string) ResolvedValue {
	return ResolvedValue{Kind: ResolvedSkip, Reason: reason}
}

// Mapping maps stable IDs to resolved values for one pass.
type Mapping map[string]ResolvedValue

// Merge copies entries from other into m, other winning on collision.
func (m Mapping) Merge(other Mapping) {
	for k, v := range other {
		m[k] = v
	}
}
