// Package answer maps a scraped field name to the request body that answers it.
//
// The set of supported fields is closed: every name the journey can present is
// registered in rules below and anything else is an UnsupportedFieldError.
package answer

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// TokenField is the form parameter carrying the anti-forgery token.
const TokenField = "authenticity_token"

// Completion payload constants for the check-your-answers page.
const (
	ConfirmationField = "email_confirmation_input[send_confirmation]"
	ConfirmationValue = "skip_confirmation"
	ReferenceField    = "notify_reference"
	ReferenceValue    = "b2654330-37bc-4fa7-9e16-6341d9798d0b"
)

// FieldKind identifies a supported question type.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindDate
	KindAddress
	KindSelection
	KindSelectionMulti
	KindNumber
	KindEmail
	KindFullName
	KindText
	KindPhoneNumber
	KindNationalInsuranceNumber
)

var kindNames = map[FieldKind]string{
	KindUnknown:                 "unknown",
	KindDate:                    "date",
	KindAddress:                 "address",
	KindSelection:               "selection",
	KindSelectionMulti:          "selection_multi",
	KindNumber:                  "number",
	KindEmail:                   "email",
	KindFullName:                "full_name",
	KindText:                    "text",
	KindPhoneNumber:             "phone_number",
	KindNationalInsuranceNumber: "national_insurance_number",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// StrategyKind says how an answer's fields were produced.
type StrategyKind int

const (
	// Literal answers the field with one fixed value.
	Literal StrategyKind = iota
	// Composite answers a group of sibling fields at once.
	Composite
	// DateTriplet answers day, month and year fields.
	DateTriplet
)

func (s StrategyKind) String() string {
	switch s {
	case Literal:
		return "literal"
	case Composite:
		return "composite"
	case DateTriplet:
		return "date_triplet"
	default:
		return fmt.Sprintf("StrategyKind(%d)", int(s))
	}
}

// Field is one name/value pair of a request body.
type Field struct {
	Name  string
	Value string
}

// Answer is the body for one question, excluding the token.
type Answer struct {
	Kind     FieldKind
	Strategy StrategyKind
	Fields   []Field
}

// Form returns the answer as form values with the token attached.
func (a Answer) Form(token string) url.Values {
	values := url.Values{}
	values.Set(TokenField, token)
	for _, f := range a.Fields {
		values.Add(f.Name, f.Value)
	}
	return values
}

type rule struct {
	kind     FieldKind
	strategy StrategyKind
	fields   []Field
}

func literal(kind FieldKind, name, value string) rule {
	return rule{kind: kind, strategy: Literal, fields: []Field{{name, value}}}
}

var rules = map[string]rule{
	"question[date(3i)]": {
		kind:     KindDate,
		strategy: DateTriplet,
		fields: []Field{
			{"question[date(3i)]", "1"},
			{"question[date(2i)]", "1"},
			{"question[date(1i)]", "2023"},
		},
	},
	"question[address1]": {
		kind:     KindAddress,
		strategy: Composite,
		fields: []Field{
			{"question[address1]", "first line"},
			{"question[address2]", "second line"},
			{"question[town_or_city]", "the town"},
			{"question[county]", "the county"},
			{"question[postcode]", "SW1A 2AA"},
		},
	},
	"question[selection]":                 literal(KindSelection, "question[selection]", "Blue"),
	"question[selection][]":               literal(KindSelectionMulti, "question[selection][]", "Blue"),
	"question[number]":                    literal(KindNumber, "question[number]", "42"),
	"question[email]":                     literal(KindEmail, "question[email]", "test@test.test"),
	"question[full_name]":                 literal(KindFullName, "question[full_name]", "Gatling Tester"),
	"question[text]":                      literal(KindText, "question[text]", "Just some text"),
	"question[phone_number]":              literal(KindPhoneNumber, "question[phone_number]", "01234567890"),
	"question[national_insurance_number]": literal(KindNationalInsuranceNumber, "question[national_insurance_number]", "AA123456D"),
}

// UnsupportedFieldError is returned for a field name with no registered rule.
type UnsupportedFieldError struct {
	Name string
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("unsupported field %q", e.Name)
}

// Classify returns the kind registered for name, or KindUnknown.
func Classify(name string) FieldKind {
	if r, ok := rules[strings.TrimSpace(name)]; ok {
		return r.kind
	}
	return KindUnknown
}

// Build returns the answer for the field called name. Matching is exact after
// trimming surrounding whitespace.
func Build(name string) (Answer, error) {
	r, ok := rules[strings.TrimSpace(name)]
	if !ok {
		return Answer{Kind: KindUnknown}, &UnsupportedFieldError{Name: name}
	}
	fields := make([]Field, len(r.fields))
	copy(fields, r.fields)
	return Answer{Kind: r.kind, Strategy: r.strategy, Fields: fields}, nil
}

// Completion returns the body that submits the answers and skips the
// confirmation email.
func Completion(token string) url.Values {
	values := url.Values{}
	values.Set(ConfirmationField, ConfirmationValue)
	values.Set(TokenField, token)
	values.Set(ReferenceField, ReferenceValue)
	return values
}

// Names returns every supported field name in sorted order.
func Names() []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns every known kind except KindUnknown.
func Kinds() []FieldKind {
	kinds := make([]FieldKind, 0, len(kindNames)-1)
	for k := range kindNames {
		if k != KindUnknown {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
