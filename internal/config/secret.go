package config

import (
	"encoding/json"
	"net/url"
)

const redactedMarker = "[REDACTED]"

// Secret holds a credential or a credential-bearing URL such as a Slack webhook.
// Every printed or marshaled form is redacted; Reveal is the only way to the raw value.
type Secret string

// redacted keeps the scheme and host of a URL so logs still show where a webhook points.
// Anything else collapses to the marker.
func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	if u, err := url.Parse(string(s)); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host + "/" + redactedMarker
	}
	return redactedMarker
}

func (s Secret) String() string {
	return s.redacted()
}

// Reveal returns the underlying value for the code that must send it
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether a value was configured
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.redacted(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.redacted())
}

// GoString keeps %#v redacted
func (s Secret) GoString() string {
	return `"` + s.redacted() + `"`
}
