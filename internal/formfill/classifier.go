package formfill

import (
	"strings"

	"github.com/ternarybob/peto/internal/models"
)

// Classify tags a descriptor's element with a FieldCategory. It is a pure
// function of the element's tag, input type, container chrome, and
// role/aria attributes; first matching rule wins.
//
// Vendor rules key on structurally distinctive widget chrome (a styled
// container wrapping a search input with a popup list), never on a
// specific site.
func Classify(el *models.ElementInfo) models.FieldCategory {
	tag := strings.ToLower(el.Tag)
	typ := strings.ToLower(el.Type)
	container := strings.ToLower(el.ContainerClass)

	// 1. file inputs
	if tag == "input" && typ == "file" {
		return models.CategoryFileUpload
	}

	// 2. visible checkboxes and radios; hidden ones under a row of
	// sibling buttons fall through to the button-group rule.
	if tag == "input" && (typ == "checkbox" || typ == "radio") {
		if el.Visible || el.SiblingButtons < 2 {
			if typ == "checkbox" {
				return models.CategoryCheckbox
			}
			return models.CategoryRadio
		}
	}

	// 3. native selects
	if tag == "select" {
		return models.CategorySelectNative
	}

	// 4. textareas
	if tag == "textarea" {
		return models.CategoryTextarea
	}

	// 5. vendor skills multiselect: a search input inside tag/chip chrome
	if tag == "input" && hasAnyToken(container, "multiselect", "multi-select", "chip", "chips", "token", "tag-input", "tags-input") {
		return models.CategoryMultiselect
	}

	// 6. vendor searchable dropdowns
	if hasAnyToken(container, "select__", "select2") {
		return models.CategorySelectVendorA
	}
	if hasAnyToken(container, "autocomplete", "typeahead", "dropdown-search") {
		return models.CategorySelectVendorB
	}

	// 7. generic custom dropdowns by role
	if strings.EqualFold(el.Role, "combobox") || strings.EqualFold(el.Role, "listbox") || el.HasPopup {
		return models.CategorySelectCustom
	}

	// 8. button group over a hidden checkbox/radio
	if tag == "input" && (typ == "checkbox" || typ == "radio") && el.SiblingButtons >= 2 {
		return models.CategoryButtonGroup
	}

	// 9. typed text inputs
	switch typ {
	case "date", "datetime-local", "month":
		return models.CategoryDate
	case "number":
		return models.CategoryNumber
	case "email":
		return models.CategoryEmail
	case "url":
		return models.CategoryURL
	case "tel":
		return models.CategoryPhone
	case "password":
		return models.CategoryPassword
	}

	// 10. default
	return models.CategoryText
}

// hasAnyToken reports whether any needle occurs in the space-joined
// container class token list.
func hasAnyToken(container string, needles ...string) bool {
	if container == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(container, n) {
			return true
		}
	}
	return false
}
