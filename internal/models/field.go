package models

import "fmt"

// FieldCategory is the tagged enumeration driving the interaction strategy.
// Vendor tags refer to structurally distinctive widget patterns, never to a
// specific site.
type FieldCategory string

const (
	CategoryText           FieldCategory = "text"
	CategoryEmail          FieldCategory = "email"
	CategoryPhone          FieldCategory = "phone"
	CategoryURL            FieldCategory = "url"
	CategoryNumber         FieldCategory = "number"
	CategoryDate           FieldCategory = "date"
	CategoryPassword       FieldCategory = "password"
	CategoryTextarea       FieldCategory = "textarea"
	CategorySelectNative   FieldCategory = "select_native"
	CategorySelectCustom   FieldCategory = "select_custom"
	CategorySelectVendorA  FieldCategory = "select_vendor_a"
	CategorySelectVendorB  FieldCategory = "select_vendor_b"
	CategoryMultiselect    FieldCategory = "multiselect_skills"
	CategoryRadio          FieldCategory = "radio"
	CategoryCheckbox       FieldCategory = "checkbox"
	CategoryButtonGroup    FieldCategory = "button_group"
	CategoryFileUpload     FieldCategory = "file_upload"
)

// IsDropdown reports whether the category requires option extraction before
// the AI mapping pass.
func (c FieldCategory) IsDropdown() bool {
	switch c {
	case CategorySelectNative, CategorySelectCustom, CategorySelectVendorA, CategorySelectVendorB:
		return true
	}
	return false
}

// IsCheckLike reports whether the category answers a boolean decision.
func (c FieldCategory) IsCheckLike() bool {
	switch c {
	case CategoryCheckbox, CategoryRadio, CategoryButtonGroup:
		return true
	}
	return false
}

// OptionItem is one entry of a dropdown-like field's option list.
type OptionItem struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// ElementInfo is the raw per-element data returned by the browser driver's
// page snapshot. Geometry and visibility come from live layout; everything
// else mirrors DOM attributes.
type ElementInfo struct {
	Path           string  `json:"path"` // CSS path, stable within one snapshot
	Tag            string  `json:"tag"`
	Type           string  `json:"type"`
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	AriaLabel      string  `json:"ariaLabel"`
	AriaLabelledBy string  `json:"ariaLabelledBy"` // resolved target text
	Role           string  `json:"role"`
	HasPopup       bool    `json:"hasPopup"`
	Placeholder    string  `json:"placeholder"`
	Required       bool    `json:"required"`
	Value          string  `json:"value"`
	Checked        bool    `json:"checked"`
	Visible        bool    `json:"visible"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	ContainerClass string  `json:"containerClass"` // ancestor class tokens, space-joined
	LegendText     string  `json:"legendText"`     // enclosing fieldset>legend text
	OwnText        string  `json:"ownText"`        // element's own option text (radio/checkbox)
	SiblingButtons int     `json:"siblingButtons"` // sibling button count in the parent container
}

// FieldDescriptor is the metadata for one interactive element discovered on
// a page. Descriptors are created per detection pass and discarded at the
// end of the pass; the stable ID rejoins a descriptor to a live element
// after DOM mutation.
type FieldDescriptor struct {
	StableID    string        `json:"stable_id"`
	Label       string        `json:"label"`
	Category    FieldCategory `json:"category"`
	Options     []OptionItem  `json:"options,omitempty"` // lazily extracted
	Required    bool          `json:"required"`
	Filled      bool          `json:"filled"`
	Placeholder string        `json:"placeholder,omitempty"`

	// Element identity used to re-resolve the live element. Handles are
	// never trusted across passes.
	Element ElementInfo `json:"element"`
	Index   int         `json:"index"` // document-order position within the pass
}

// Selector returns the most specific selector usable to re-resolve the
// live element: DOM id, then name, then the snapshot CSS path.
func (f *FieldDescriptor) Selector() string {
	if f.Element.ID != "" {
		return fmt.Sprintf("#%s", cssEscape(f.Element.ID))
	}
	if f.Element.Name != "" {
		return fmt.Sprintf("%s[name=%q]", f.Element.Tag, f.Element.Name)
	}
	return f.Element.Path
}

// cssEscape escapes characters that would terminate an ID selector.
func cssEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '\\', c)
		}
	}
	return string(out)
}

// CompletionStatus is the terminal status of one field attempt.
type CompletionStatus string

const (
	CompletionSucceeded CompletionStatus = "succeeded"
	CompletionFailed    CompletionStatus = "failed"
	CompletionSkipped   CompletionStatus = "skipped"
)

// CompletionRecord tracks attempts against one (page, stable_id) pair for
// the lifetime of the page navigation.
type CompletionRecord struct {
	Attempts   int              `json:"attempts"`
	LastStatus CompletionStatus `json:"last_status"`
	LastValue  string           `json:"last_value,omitempty"`
}
