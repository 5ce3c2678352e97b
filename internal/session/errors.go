package session

import (
	"context"
	"errors"

	"github.com/alphagov/forms-load-tests/internal/answer"
	"github.com/alphagov/forms-load-tests/internal/scrape"
	"github.com/alphagov/forms-load-tests/internal/transport"
)

// Failure kinds reported by Classify.
const (
	KindMalformedPage    = "malformed_page"
	KindUnsupportedField = "unsupported_field"
	KindTransport        = "transport"
	KindCancelled        = "cancelled"
	KindUnknown          = "unknown"
)

// Classify names the failure class of a session error.
func Classify(err error) string {
	var (
		malformed   *scrape.MalformedPageError
		unsupported *answer.UnsupportedFieldError
		transportE  *transport.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &malformed):
		return KindMalformedPage
	case errors.As(err, &unsupported):
		return KindUnsupportedField
	case errors.As(err, &transportE):
		return KindTransport
	default:
		return KindUnknown
	}
}
