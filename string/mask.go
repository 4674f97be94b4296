package string

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mask will mask a string by replacing the second half with asterisks.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// MaskURL returns a masked version of the URL string attempting to hide sensitive information.
// Credentials, the path and every query value are masked; scheme and host stay readable.
func MaskURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse URL")
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	if u.User != nil {
		str.WriteString(Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			str.WriteString(":")
			str.WriteString(Mask(pass))
		}
		str.WriteString("@")
	}
	str.WriteString(u.Host)
	if p := u.Path; p != "/" && p != "" {
		str.WriteString("/")
		if len(p) > 1 && p[0] == '/' {
			str.WriteString(Mask(p[1:]))
		}
	}
	var qs []string
	for k, v := range u.Query() {
		qs = append(qs, fmt.Sprintf("%s=%s", k, Mask(strings.Join(v, ","))))
	}
	sort.Strings(qs)
	if len(qs) > 0 {
		str.WriteString("?")
		str.WriteString(strings.Join(qs, "&"))
	}
	return str.String(), nil
}

// MaskedString holds a secret. Every formatting or serialization path renders
// the masked form; Text is the only way to read the real value.
type MaskedString string

// Text returns the unmasked text value.
func (ms MaskedString) Text() string {
	return string(ms)
}

// IsEmpty reports whether no secret was provided.
func (ms MaskedString) IsEmpty() bool {
	return strings.TrimSpace(string(ms)) == ""
}

// String implements fmt.Stringer to return a masked representation.
func (ms MaskedString) String() string {
	if len(ms) == 0 {
		return ""
	}
	return Mask(string(ms))
}

// GoString implements fmt.GoStringer so %#v also prints masked.
func (ms MaskedString) GoString() string {
	return ms.String()
}

// MarshalText implements encoding.TextMarshaler for masked text output.
func (ms MaskedString) MarshalText() ([]byte, error) {
	return []byte(ms.String()), nil
}

// MarshalYAML implements yaml.Marshaler for masked YAML output.
func (ms MaskedString) MarshalYAML() (any, error) {
	return ms.String(), nil
}
