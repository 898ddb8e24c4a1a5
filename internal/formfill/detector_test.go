package formfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/models"
)

func TestScanResolvesLabelsInOrder(t *testing.T) {
	html := `<html><body><form>
		<label for="first_name">First Name</label>
		<input id="first_name" type="text">
		<div class="q">How did you hear about us?</div>
		<input name="referral" type="text">
		<fieldset>
			<legend>Work Authorization</legend>
			<input name="auth" type="radio">
		</fieldset>
	</form></body></html>`
	elements := []models.ElementInfo{
		{Path: "#first_name", Tag: "input", Type: "text", ID: "first_name", Visible: true, Width: 200, Height: 30},
		{Path: `input[name="aria"]`, Tag: "input", Type: "text", Name: "aria", AriaLabel: "Preferred Pronouns Display", Visible: true},
		{Path: `input[name="referral"]`, Tag: "input", Type: "text", Name: "referral", Visible: true},
		{Path: `input[name="auth"]`, Tag: "input", Type: "radio", Name: "auth", LegendText: "Work Authorization", OwnText: "Yes", Visible: true},
		{Path: `input[name="nick"]`, Tag: "input", Type: "text", Name: "nick", Placeholder: "Nickname", Visible: true},
	}
	driver := newFakeDriver(html, elements)

	descs, err := NewDetector(driver, common.GetLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 5)

	assert.Equal(t, "First Name", descs[0].Label, "label[for] wins over everything")
	assert.Equal(t, "Preferred Pronouns Display", descs[1].Label, "aria-label when no label[for]")
	assert.Equal(t, "How did you hear about us?", descs[2].Label, "nearest preceding text block")
	assert.Equal(t, "Work Authorization Yes", descs[3].Label, "legend plus own text for check-like")
	assert.Equal(t, "Nickname", descs[4].Label, "placeholder as last resort")
}

func TestScanStableIDPriorityAndUniqueness(t *testing.T) {
	elements := []models.ElementInfo{
		{Path: "#email", Tag: "input", Type: "email", ID: "email", Visible: true},
		{Path: `input[name="phone"]`, Tag: "input", Type: "tel", Name: "phone", Visible: true},
		{Path: "form > input:nth-of-type(3)", Tag: "input", Type: "text", AriaLabel: "City", Visible: true},
		{Path: "form > input:nth-of-type(4)", Tag: "input", Type: "text", Placeholder: "Zip", Visible: true},
		{Path: "form > input:nth-of-type(5)", Tag: "input", Type: "text", Placeholder: "Zip", Visible: true},
		{Path: "form > input:nth-of-type(6)", Tag: "input", Type: "text", Visible: true},
	}
	driver := newFakeDriver("<html><body><form></form></body></html>", elements)

	descs, err := NewDetector(driver, common.GetLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 6)

	assert.Equal(t, "id:email", descs[0].StableID)
	assert.Equal(t, "name:phone", descs[1].StableID)
	assert.Equal(t, "aria_label:City", descs[2].StableID)
	assert.Equal(t, "label:Zip:input:text", descs[3].StableID, "placeholder-derived label still identifies the field")
	assert.Equal(t, "label:Zip:input:text:1", descs[4].StableID, "collision gets a numeric suffix")
	assert.Equal(t, "index:5:input:text", descs[5].StableID)

	seen := make(map[string]bool)
	for _, d := range descs {
		assert.False(t, seen[d.StableID], "stable id %q repeated within one scan", d.StableID)
		seen[d.StableID] = true
	}
}

func TestScanFiltersHiddenAndBareElements(t *testing.T) {
	elements := []models.ElementInfo{
		{Path: `input[name="csrf"]`, Tag: "input", Type: "hidden", Name: "csrf"},
		{Path: `input[name="ghost"]`, Tag: "input", Type: "text", Name: "ghost", Visible: false},
		{Path: "form > button:nth-of-type(1)", Tag: "button", Visible: true},
		{Path: `input[name="remote"]`, Tag: "input", Type: "radio", Name: "remote", Visible: false, SiblingButtons: 2},
		{Path: `input[name="kept"]`, Tag: "input", Type: "text", Name: "kept", Visible: true},
	}
	driver := newFakeDriver("<html><body><form></form></body></html>", elements)

	descs, err := NewDetector(driver, common.GetLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "name:remote", descs[0].StableID, "hidden input behind a button row is admitted")
	assert.Equal(t, models.CategoryButtonGroup, descs[0].Category)
	assert.Equal(t, "name:kept", descs[1].StableID)
}

func TestScanMarksFilledFields(t *testing.T) {
	elements := []models.ElementInfo{
		{Path: "#a", Tag: "input", Type: "text", ID: "a", Value: "done", Visible: true},
		{Path: "#b", Tag: "input", Type: "checkbox", ID: "b", Checked: true, Visible: true},
		{Path: "#c", Tag: "input", Type: "text", ID: "c", Visible: true},
	}
	driver := newFakeDriver("<html><body></body></html>", elements)

	descs, err := NewDetector(driver, common.GetLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.True(t, descs[0].Filled)
	assert.True(t, descs[1].Filled)
	assert.False(t, descs[2].Filled)
}

func TestExtractNativeOptionsPrunesPlaceholders(t *testing.T) {
	elements := []models.ElementInfo{
		{Path: "#country", Tag: "select", ID: "country", Visible: true},
	}
	driver := newFakeDriver("<html><body></body></html>", elements)
	driver.options["#country"] = []string{"Select a country...", "United States", "Canada", "--"}

	detector := NewDetector(driver, common.GetLogger())
	descs, err := detector.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)

	require.NoError(t, detector.ExtractOptions(context.Background(), &descs[0]))
	require.Len(t, descs[0].Options, 2)
	assert.Equal(t, "United States", descs[0].Options[0].Text)
	assert.Equal(t, "Canada", descs[0].Options[1].Text)
}

func TestExtractPopupOptionsClosesPopup(t *testing.T) {
	elements := []models.ElementInfo{
		{Path: "#source", Tag: "input", Type: "text", ID: "source", Role: "combobox", Visible: true},
	}
	driver := newFakeDriver("<html><body></body></html>", elements)
	driver.popupOptions = []string{"LinkedIn", "Referral", "Job board"}

	detector := NewDetector(driver, common.GetLogger())
	descs, err := detector.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.CategorySelectCustom, descs[0].Category)

	require.NoError(t, detector.ExtractOptions(context.Background(), &descs[0]))
	assert.Len(t, descs[0].Options, 3)
	assert.False(t, driver.popupVisible, "popup must be dismissed after extraction")
}

func TestExtractOptionsRejectsNonDropdown(t *testing.T) {
	desc := models.FieldDescriptor{StableID: "id:x", Category: models.CategoryText}
	driver := newFakeDriver("", nil)
	err := NewDetector(driver, common.GetLogger()).ExtractOptions(context.Background(), &desc)
	assert.Error(t, err)
}
