package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindEntryTextPrefersExactAffordance(t *testing.T) {
	texts := []string{"Share", "Apply Now", "Apply"}

	got, ok := findEntryText(texts, "apply now")
	assert.True(t, ok)
	assert.Equal(t, "Apply Now", got)
}

func TestFindEntryTextNormalizesWhitespace(t *testing.T) {
	texts := []string{"  Apply\n  for this   job  "}

	got, ok := findEntryText(texts, "apply for this job")
	assert.True(t, ok)
	assert.Equal(t, "  Apply\n  for this   job  ", got)
}

func TestFindEntryTextSkipsAutofillAffordances(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
	}{
		{"resume autofill", []string{"Autofill with Resume"}},
		{"apply with resume", []string{"Apply with Resume"}},
		{"easy apply", []string{"Easy Apply"}},
		{"linkedin apply", []string{"Apply with LinkedIn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := findEntryText(tt.texts, "apply")
			assert.False(t, ok)
		})
	}
}

func TestFindEntryTextFallsThroughIgnoredToPlainApply(t *testing.T) {
	texts := []string{"Easy Apply", "Apply"}

	got, ok := findEntryText(texts, "apply")
	assert.True(t, ok)
	assert.Equal(t, "Apply", got)
}

func TestFindEntryTextNoMatch(t *testing.T) {
	_, ok := findEntryText([]string{"Save job", "Share"}, "apply")
	assert.False(t, ok)
}
