// Package scrape extracts the next step of a form journey from a runner page.
package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NoInput is the input name reported when a page has no interactive field.
// It signals the end of the question sequence and is not an error.
const NoInput = "none"

// ConfirmationMarker prefixes the field on the final check-your-answers page
// that asks whether to send a confirmation email.
const ConfirmationMarker = "email_confirmation_input"

const (
	contentRegion = "#main-content"
	tokenSelector = "input[name=authenticity_token][type=hidden]"

	// inputSelector matches GOV.UK Frontend field classes. Matches come back
	// in document order.
	inputSelector = ".govuk-input, .govuk-select, .govuk-checkboxes__input, .govuk-radios__input, .govuk-textarea"
)

// Page is what a session needs from one response.
type Page struct {
	AuthToken  string
	ActionPath string
	InputName  string
}

// HasInput reports whether the page presented an interactive field.
func (p Page) HasInput() bool {
	return p.InputName != NoInput
}

// Terminal reports whether the answering loop should stop on this page: either
// no field is left or the field is the confirmation-skip marker.
func (p Page) Terminal() bool {
	return !p.HasInput() || strings.HasPrefix(p.InputName, ConfirmationMarker)
}

// MalformedPageError is returned when a page shows an interactive field but
// lacks the token or form action needed to submit it.
type MalformedPageError struct {
	InputName string
	Missing   []string
	Err       error
}

func (e *MalformedPageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed page: %v", e.Err)
	}
	return fmt.Sprintf("malformed page: field %q present but missing %s", e.InputName, strings.Join(e.Missing, " and "))
}

func (e *MalformedPageError) Unwrap() error {
	return e.Err
}

// Scrape parses body and returns the anti-forgery token, the form action and
// the name of the first interactive field inside the main content region.
//
// The token and action come from the form that owns the chosen field, so
// unrelated forms elsewhere on the page (cookie banners, sign-out buttons) are
// ignored. When there is no field the token and action are optional.
func Scrape(body []byte) (Page, error) {
	page := Page{InputName: NoInput}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page, &MalformedPageError{Err: err}
	}

	region := doc.Find(contentRegion).First()
	if region.Length() == 0 {
		region = doc.Selection
	}

	form := region.Find("form").First()

	input := region.Find(inputSelector).FilterFunction(named).First()
	if input.Length() > 0 {
		page.InputName = strings.TrimSpace(input.AttrOr("name", ""))
		if owner := input.Closest("form"); owner.Length() > 0 {
			form = owner
		}
	}

	if form.Length() > 0 {
		page.ActionPath = strings.TrimSpace(form.AttrOr("action", ""))
		page.AuthToken = strings.TrimSpace(form.Find(tokenSelector).First().AttrOr("value", ""))
	}

	if page.HasInput() {
		var missing []string
		if page.AuthToken == "" {
			missing = append(missing, "authenticity token")
		}
		if page.ActionPath == "" {
			missing = append(missing, "form action")
		}
		if len(missing) > 0 {
			return page, &MalformedPageError{InputName: page.InputName, Missing: missing}
		}
	}

	return page, nil
}

func named(_ int, s *goquery.Selection) bool {
	name, ok := s.Attr("name")
	return ok && strings.TrimSpace(name) != ""
}
