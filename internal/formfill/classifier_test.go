package formfill

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/peto/internal/models"
)

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		el   models.ElementInfo
		want models.FieldCategory
	}{
		{
			name: "file input",
			el:   models.ElementInfo{Tag: "input", Type: "file", Visible: true},
			want: models.CategoryFileUpload,
		},
		{
			name: "visible checkbox",
			el:   models.ElementInfo{Tag: "input", Type: "checkbox", Visible: true},
			want: models.CategoryCheckbox,
		},
		{
			name: "visible radio",
			el:   models.ElementInfo{Tag: "input", Type: "radio", Visible: true},
			want: models.CategoryRadio,
		},
		{
			name: "hidden radio with one sibling button stays radio",
			el:   models.ElementInfo{Tag: "input", Type: "radio", Visible: false, SiblingButtons: 1},
			want: models.CategoryRadio,
		},
		{
			name: "hidden radio under button row becomes button group",
			el:   models.ElementInfo{Tag: "input", Type: "radio", Visible: false, SiblingButtons: 2},
			want: models.CategoryButtonGroup,
		},
		{
			name: "hidden checkbox under button row becomes button group",
			el:   models.ElementInfo{Tag: "input", Type: "checkbox", Visible: false, SiblingButtons: 3},
			want: models.CategoryButtonGroup,
		},
		{
			name: "native select",
			el:   models.ElementInfo{Tag: "select", Visible: true},
			want: models.CategorySelectNative,
		},
		{
			name: "native select ignores vendor chrome",
			el:   models.ElementInfo{Tag: "select", Visible: true, ContainerClass: "select2-container"},
			want: models.CategorySelectNative,
		},
		{
			name: "textarea",
			el:   models.ElementInfo{Tag: "textarea", Visible: true},
			want: models.CategoryTextarea,
		},
		{
			name: "skills input in chip chrome",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true, ContainerClass: "chips-wrapper input-row"},
			want: models.CategoryMultiselect,
		},
		{
			name: "multiselect beats vendor dropdown chrome",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true, ContainerClass: "tag-input autocomplete"},
			want: models.CategoryMultiselect,
		},
		{
			name: "styled-select vendor pattern",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true, ContainerClass: "select__control select__value-container"},
			want: models.CategorySelectVendorA,
		},
		{
			name: "select2 vendor pattern",
			el:   models.ElementInfo{Tag: "input", Type: "search", Visible: true, ContainerClass: "select2-search"},
			want: models.CategorySelectVendorA,
		},
		{
			name: "typeahead vendor pattern",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true, ContainerClass: "typeahead-field"},
			want: models.CategorySelectVendorB,
		},
		{
			name: "combobox role",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true, Role: "combobox"},
			want: models.CategorySelectCustom,
		},
		{
			name: "haspopup div",
			el:   models.ElementInfo{Tag: "div", Visible: true, HasPopup: true},
			want: models.CategorySelectCustom,
		},
		{
			name: "date input",
			el:   models.ElementInfo{Tag: "input", Type: "date", Visible: true},
			want: models.CategoryDate,
		},
		{
			name: "email input",
			el:   models.ElementInfo{Tag: "input", Type: "email", Visible: true},
			want: models.CategoryEmail,
		},
		{
			name: "tel input",
			el:   models.ElementInfo{Tag: "input", Type: "tel", Visible: true},
			want: models.CategoryPhone,
		},
		{
			name: "url input",
			el:   models.ElementInfo{Tag: "input", Type: "url", Visible: true},
			want: models.CategoryURL,
		},
		{
			name: "number input",
			el:   models.ElementInfo{Tag: "input", Type: "number", Visible: true},
			want: models.CategoryNumber,
		},
		{
			name: "password input",
			el:   models.ElementInfo{Tag: "input", Type: "password", Visible: true},
			want: models.CategoryPassword,
		},
		{
			name: "plain text input",
			el:   models.ElementInfo{Tag: "input", Type: "text", Visible: true},
			want: models.CategoryText,
		},
		{
			name: "typeless input defaults to text",
			el:   models.ElementInfo{Tag: "input", Visible: true},
			want: models.CategoryText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&tt.el))
		})
	}
}
