package bill

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
)

// NewReference builds a sortable, URL-safe bill reference such as
// "weather-api-01hv3k...". The slug falls back to "bill" for empty names.
func NewReference(offeringName string, at time.Time) string {
	prefix := slug.Make(offeringName)
	if prefix == "" {
		prefix = "bill"
	}
	id := ulid.MustNew(ulid.Timestamp(at), rand.Reader)
	return prefix + "-" + strings.ToLower(id.String())
}
