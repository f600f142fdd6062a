package address

import (
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/wippyai/wasm-space/errors"
)

const (
	separator      = ":"
	propertyMarker = "::"
)

// Parse parses an address in resolution form.
// Kind tags are rejected; use ParseTemplate for creation.
func Parse(text string) (Address, error) {
	return parse(text, false)
}

// ParseTemplate parses an address in creation form, where the final
// segment may carry a <Kind> tag. The tag is optional here; callers that
// create resources check Kind() themselves.
func ParseTemplate(text string) (Address, error) {
	return parse(text, true)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseProperty splits a property target of the form "address::key".
func ParseProperty(text string) (Address, string, error) {
	idx := strings.Index(text, propertyMarker)
	if idx < 0 {
		return Address{}, "", errors.Malformed(text, "missing \"::\" property key")
	}
	addrText, key := text[:idx], text[idx+len(propertyMarker):]
	if !validName(key) {
		return Address{}, "", errors.Malformed(text, "invalid property key "+strconv.Quote(key))
	}
	addr, err := Parse(addrText)
	if err != nil {
		return Address{}, "", err
	}
	if addr.HasPath() || addr.HasVersion() {
		return Address{}, "", errors.Malformed(text, "property target must name a resource")
	}
	return addr, key, nil
}

func parse(text string, template bool) (Address, error) {
	if text == "" {
		return Address{}, errors.Malformed(text, "empty address")
	}

	head, path, hasPath := splitPath(text)
	if head == "" {
		return Address{}, errors.Malformed(text, "address has no segments")
	}

	parts := strings.Split(head, separator)
	var a Address
	a.segments = make([]Segment, 0, len(parts))

	for i, part := range parts {
		last := i == len(parts)-1
		if part == "" {
			return Address{}, errors.Malformed(text, "empty segment")
		}

		name, kind, err := splitKind(text, part)
		if err != nil {
			return Address{}, err
		}
		if kind != "" {
			switch {
			case !template:
				return Address{}, errors.Malformed(text, "kind tag only allowed at creation")
			case !last:
				return Address{}, errors.Malformed(text, "kind tag on non-final segment")
			case hasPath:
				return Address{}, errors.Malformed(text, "kind tag with sub-path")
			}
			a.kind = kind
		}

		if looksLikeVersion(name) {
			v, err := semver.NewVersion(name)
			if err != nil || v.String() != name {
				return Address{}, errors.Malformed(text, "invalid version "+strconv.Quote(name))
			}
			switch {
			case kind != "":
				return Address{}, errors.Malformed(text, "kind tag on version")
			case len(a.segments) == 0:
				return Address{}, errors.Malformed(text, "version without resource")
			case a.segments[len(a.segments)-1].Version != nil:
				return Address{}, errors.Malformed(text, "consecutive versions")
			case !last:
				return Address{}, errors.Malformed(text, "version on non-final segment")
			}
			a.segments[len(a.segments)-1].Version = v
			continue
		}

		if !validName(name) {
			return Address{}, errors.Malformed(text, "invalid segment "+strconv.Quote(name))
		}
		a.segments = append(a.segments, Segment{Name: name})
	}

	a.path = path
	return a, nil
}

// splitPath cuts the address at the first ":/" separator.
// Everything after it is the verbatim sub-path.
func splitPath(text string) (head, path string, ok bool) {
	if strings.HasPrefix(text, "/") {
		return "", text, true
	}
	idx := strings.Index(text, separator+"/")
	if idx < 0 {
		return text, "", false
	}
	return text[:idx], text[idx+1:], true
}

// splitKind separates "name<Kind>" into its parts and rejects stray brackets.
func splitKind(text, part string) (name, kind string, err error) {
	open := strings.IndexByte(part, '<')
	closeIdx := strings.IndexByte(part, '>')
	switch {
	case open < 0 && closeIdx < 0:
		return part, "", nil
	case open < 0 || closeIdx < 0:
		return "", "", errors.Malformed(text, "unbalanced angle brackets")
	case closeIdx != len(part)-1 || closeIdx < open:
		return "", "", errors.Malformed(text, "unbalanced angle brackets")
	case strings.Count(part, "<") != 1 || strings.Count(part, ">") != 1:
		return "", "", errors.Malformed(text, "unbalanced angle brackets")
	}
	name, kind = part[:open], part[open+1:closeIdx]
	if name == "" {
		return "", "", errors.Malformed(text, "empty segment")
	}
	if !validKind(kind) {
		return "", "", errors.Malformed(text, "invalid kind tag "+strconv.Quote(kind))
	}
	return name, kind, nil
}

func looksLikeVersion(s string) bool {
	return s != "" && isDigit(s[0]) && strings.Count(s, ".") >= 2
}

func validName(s string) bool {
	if s == "" || !isAlnum(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	return true
}

func validKind(s string) bool {
	if s == "" || !isAlpha(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }
