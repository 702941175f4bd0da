package execution

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// normalize folds s to lower case and keeps only letters and digits, so
// "TC-101", "tc_101" and "Tc 101" compare equal.
func normalize(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}

// lastSegment returns the part of a method name after its final separator.
// Separators are '.', '#', '/', ':' and whitespace, which also covers "::".
func lastSegment(method string) string {
	fields := strings.FieldsFunc(method, func(r rune) bool {
		switch r {
		case '.', '#', '/', ':':
			return true
		default:
			return unicode.IsSpace(r)
		}
	})

	if len(fields) == 0 {
		return ""
	}

	return fields[len(fields)-1]
}

// matcher resolves report method names to test cases by identifier.
type matcher struct {
	byKey map[string][]string
}

func newMatcher(cases []store.TestCase) *matcher {
	m := &matcher{byKey: make(map[string][]string, len(cases))}

	for _, tc := range cases {
		key := normalize(tc.Identifier)
		if key == "" {
			continue
		}

		m.byKey[key] = append(m.byKey[key], tc.ID)
	}

	return m
}

// candidates returns the distinct test case IDs whose identifier equals
// the normalized full method name or its normalized last segment.
func (m *matcher) candidates(method string) []string {
	seen := make(map[string]struct{}, 2)

	for _, key := range []string{normalize(method), normalize(lastSegment(method))} {
		if key == "" {
			continue
		}

		for _, id := range m.byKey[key] {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// match returns the single test case method resolves to. Zero or several
// candidates leave the entry unmatched.
func (m *matcher) match(method string) (string, bool) {
	c := m.candidates(method)
	if len(c) != 1 {
		return "", false
	}

	return c[0], true
}
