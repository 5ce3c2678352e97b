// Package formsim is an in-process imitation of a GOV.UK Forms runner.
//
// It renders one question per page with GOV.UK Frontend markup, pairs an
// anti-forgery token with a session cookie, and records every submission so
// tests and local runs can check what a load generator actually sent.
package formsim

import "fmt"

// Kind is the type of a simulated question.
type Kind int

const (
	Text Kind = iota
	Textarea
	Number
	Email
	FullName
	PhoneNumber
	NationalInsuranceNumber
	Select
	Radios
	Checkboxes
	Date
	Address
)

// Question is one page of a form.
type Question struct {
	Kind Kind
	// Name overrides the field name for single-field kinds. It lets a form
	// present a field the client has no answer for.
	Name string
}

// Form is a simulated form keyed by ID.
type Form struct {
	ID        string
	Questions []Question

	// AskConfirmation shows the email confirmation radios on the
	// check-your-answers page.
	AskConfirmation bool

	// OmitToken drops the anti-forgery token from question pages.
	OmitToken bool
}

// DefaultForms returns forms covering every supported field kind under the
// IDs the load test uses by default.
func DefaultForms() []Form {
	return []Form{
		{
			ID:              "8921",
			AskConfirmation: true,
			Questions: []Question{
				{Kind: FullName},
				{Kind: Email},
				{Kind: PhoneNumber},
				{Kind: Address},
				{Kind: Date},
			},
		},
		{
			ID:              "71",
			AskConfirmation: true,
			Questions: []Question{
				{Kind: Text},
				{Kind: Radios},
				{Kind: Number},
				{Kind: NationalInsuranceNumber},
			},
		},
		{
			ID: "33",
			Questions: []Question{
				{Kind: Select},
				{Kind: Checkboxes},
				{Kind: Textarea},
			},
		},
	}
}

type field struct {
	Name  string
	Label string
}

// fields lists the inputs a question renders, in document order.
func (q Question) fields() []field {
	single := func(def, label string) []field {
		name := def
		if q.Name != "" {
			name = q.Name
		}
		return []field{{Name: name, Label: label}}
	}

	switch q.Kind {
	case Text, Textarea:
		return single("question[text]", "Tell us something")
	case Number:
		return single("question[number]", "How many?")
	case Email:
		return single("question[email]", "Email address")
	case FullName:
		return single("question[full_name]", "Full name")
	case PhoneNumber:
		return single("question[phone_number]", "Phone number")
	case NationalInsuranceNumber:
		return single("question[national_insurance_number]", "National Insurance number")
	case Select, Radios:
		return single("question[selection]", "Favourite colour")
	case Checkboxes:
		return single("question[selection][]", "Colours you like")
	case Date:
		return []field{
			{Name: "question[date(3i)]", Label: "Day"},
			{Name: "question[date(2i)]", Label: "Month"},
			{Name: "question[date(1i)]", Label: "Year"},
		}
	case Address:
		return []field{
			{Name: "question[address1]", Label: "Address line 1"},
			{Name: "question[address2]", Label: "Address line 2"},
			{Name: "question[town_or_city]", Label: "Town or city"},
			{Name: "question[county]", Label: "County"},
			{Name: "question[postcode]", Label: "Postcode"},
		}
	default:
		panic(fmt.Sprintf("formsim: unknown question kind %d", q.Kind))
	}
}

// class is the GOV.UK Frontend class of the question's inputs.
func (q Question) class() string {
	switch q.Kind {
	case Textarea:
		return "govuk-textarea"
	case Select:
		return "govuk-select"
	case Radios:
		return "govuk-radios__input"
	case Checkboxes:
		return "govuk-checkboxes__input"
	default:
		return "govuk-input"
	}
}
