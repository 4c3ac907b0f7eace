package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled name glob. Supported syntax: '*' (any run of
// characters), '?' (one character), '[abc]' and '[!abc]' classes, and
// '{a,b}' alternation. A leading '/' is ignored since every name lives in
// the root.
type Pattern struct {
	re   *regexp.Regexp
	glob string
}

// Compile compiles a glob.
func Compile(glob string) (*Pattern, error) {
	src := strings.TrimPrefix(glob, "/")
	if src == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	expr, err := globToRegex(src)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", glob, err)
	}
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", glob, err)
	}
	return &Pattern{re: re, glob: glob}, nil
}

// Match reports whether name matches the pattern.
func (p *Pattern) Match(name string) bool {
	return p.re.MatchString(strings.TrimPrefix(name, "/"))
}

func (p *Pattern) String() string { return p.glob }

// globToRegex translates glob syntax into a regular expression body.
//
//nolint:gocyclo // character-by-character glob parser
func globToRegex(glob string) (string, error) {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			for i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(glob) && glob[j] == '!' {
				j++
			}
			if j < len(glob) && glob[j] == ']' {
				j++
			}
			for j < len(glob) && glob[j] != ']' {
				j++
			}
			if j >= len(glob) {
				return "", fmt.Errorf("unterminated character class")
			}
			cls := glob[i+1 : j]
			if strings.HasPrefix(cls, "!") {
				cls = "^" + cls[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(cls, `\`, `\\`) + "]")
			i = j
		case '{':
			depth++
			b.WriteString("(?:")
		case '}':
			if depth == 0 {
				return "", fmt.Errorf("unbalanced '}'")
			}
			depth--
			b.WriteString(")")
		case ',':
			if depth > 0 {
				b.WriteString("|")
			} else {
				b.WriteString(",")
			}
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("unbalanced '{'")
	}
	return b.String(), nil
}
