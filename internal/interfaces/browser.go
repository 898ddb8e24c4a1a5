package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// PageSnapshot is one consistent view of the current page: the serialized
// DOM plus live layout data for every interactive element. The snapshot is
// read-only; taking it never scrolls or mutates the page.
type PageSnapshot struct {
	URL      string
	HTML     string
	Elements []models.ElementInfo
}

// BrowserDriver is the capability set the core assumes from the browser
// automation protocol. The concrete implementation speaks CDP; tests use
// in-memory fakes.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (*PageSnapshot, error)

	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	CountNodes(ctx context.Context, selector string) (int, error)
	TextOf(ctx context.Context, selector string) (string, error)
	AllText(ctx context.Context, selector string) ([]string, error)
	AttributeOf(ctx context.Context, selector, name string) (string, error)

	Click(ctx context.Context, selector string) error
	JSClick(ctx context.Context, selector string) error
	ClickNodeWithText(ctx context.Context, selector, text string) error
	ScrollIntoView(ctx context.Context, selector string) error

	Focus(ctx context.Context, selector string) error
	Clear(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string) error
	SetValue(ctx context.Context, selector, value string) error
	ReadValue(ctx context.Context, selector string) (string, error)

	SelectByLabel(ctx context.Context, selector, label string) error
	SelectByValue(ctx context.Context, selector, value string) error
	SelectedLabel(ctx context.Context, selector string) (string, error)

	IsChecked(ctx context.Context, selector string) (bool, error)
	SetChecked(ctx context.Context, selector string, checked bool) error

	PressKey(ctx context.Context, key string) error
	UploadFile(ctx context.Context, selector, path string) error

	// Evaluate runs a JavaScript expression and unmarshals the result.
	Evaluate(ctx context.Context, expression string, result interface{}) error
}
