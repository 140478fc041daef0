// Package ignore compiles jujuignore-style exclusion rules and evaluates
// paths against them. Rule syntax follows gitignore conventions: shell globs,
// `!` inversion, trailing `/` for directory-only rules, `#` comments, and
// backslash escapes for literal `!`, `#` and trailing spaces.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// defaultRules is always prepended to any user-supplied rule file: version
// control directories, the build output directory, the revision marker and
// the rule file itself never belong in the staged tree.
var defaultRules = []string{
	".git",
	".svn",
	".hg",
	".bzr",
	".tox",
	"/build/",
	"/version",
	".jujuignore",
}

// Rule is a single compiled ignore rule. Immutable once compiled.
type Rule struct {
	LineNumber int
	Original   string
	Invert     bool
	OnlyDirs   bool

	regex *regexp.Regexp
}

// RuleSet is an ordered sequence of rules. Order matters: rules are evaluated
// in declaration order and later rules override earlier ones.
type RuleSet struct {
	rules []Rule
}

// Compile parses the given rule lines into a RuleSet. Line numbers in errors
// and rules are 1-based.
func Compile(lines []string) (*RuleSet, error) {
	rs := &RuleSet{}
	if err := rs.Extend(lines); err != nil {
		return nil, err
	}
	return rs, nil
}

// Default returns the built-in rule set applied to every build.
func Default() *RuleSet {
	rs, err := Compile(defaultRules)
	if err != nil {
		panic(err) // the built-in rules are known-valid
	}
	return rs
}

// Extend compiles the given lines and appends them to the rule set, after any
// rules already present.
func (rs *RuleSet) Extend(lines []string) error {
	for i, line := range lines {
		rule, ok, err := compileRule(i+1, line)
		if err != nil {
			return err
		}
		if ok {
			rs.rules = append(rs.rules, rule)
		}
	}
	return nil
}

// ExtendFromFile reads an ignore-rule file (UTF-8, one rule per line) and
// appends its rules to the set.
func (rs *RuleSet) ExtendFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return rs.Extend(lines)
}

// Len reports the number of compiled rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Matches reports whether the given slash-separated path, relative to the
// project root, is excluded by the rule set. Every rule is applied in
// declaration order; a matching inverted rule force-keeps the path and stops
// further evaluation.
func (rs *RuleSet) Matches(path string, isDir bool) bool {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	ignored := false
	for _, rule := range rs.rules {
		if rule.OnlyDirs && !isDir {
			continue
		}
		if rule.regex.MatchString(path) {
			if rule.Invert {
				return false
			}
			ignored = true
		}
	}
	return ignored
}

func compileRule(lineNumber int, original string) (Rule, bool, error) {
	line := strings.TrimLeft(original, " \t")
	line = stripUnescapedTrailingSpace(line)

	// Comment and empty-line checks happen before unescaping, so `\#` at the
	// start of a pattern survives as a literal hash.
	if line == "" || strings.HasPrefix(line, "#") {
		return Rule{}, false, nil
	}

	// Each leading `!` toggles inversion, so a pattern behind an odd number
	// of bangs is force-keep. A literal bang needs `\!`.
	invert := false
	for strings.HasPrefix(line, "!") {
		invert = !invert
		line = line[1:]
	}

	line = strings.NewReplacer(`\!`, "!", `\#`, "#", `\ `, " ").Replace(line)

	onlyDirs := false
	if strings.HasSuffix(line, "/") && !strings.HasSuffix(line, `\/`) {
		onlyDirs = true
		line = line[:len(line)-1]
	}

	if line == "" {
		return Rule{}, false, nil
	}

	// Patterns without a leading slash match at any depth; a leading slash
	// anchors the pattern to the project root.
	if !strings.HasPrefix(line, "/") {
		line = "**/" + line
	}

	expr, err := globToRegex(line)
	if err != nil {
		return Rule{}, false, fmt.Errorf("rule %d (%q): %w", lineNumber, original, err)
	}

	return Rule{
		LineNumber: lineNumber,
		Original:   original,
		Invert:     invert,
		OnlyDirs:   onlyDirs,
		regex:      expr,
	}, true, nil
}

// stripUnescapedTrailingSpace removes line terminators and trailing blanks,
// keeping a backslash-escaped trailing space.
func stripUnescapedTrailingSpace(s string) string {
	s = strings.TrimRight(s, "\r\n")
	end := len(s)
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '\t') {
		if end >= 2 && s[end-2] == '\\' {
			break
		}
		end--
	}
	return s[:end]
}

// globToRegex translates a shell-glob ignore pattern into an anchored regular
// expression over root-relative paths:
//
//	*     [^/]*        (never crosses a directory boundary)
//	**    .*
//	/**/  /(?:.*/)?    (zero or more intermediate directories)
//	?     [^/]
//	[...] character class, with leading ! rewritten to ^
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`\A`)

	classEscaper := strings.NewReplacer(`\`, `\\`, "&", `\&`, "~", `\~`, "|", `\|`)

	i, n := 0, len(pattern)
	for i < n {
		c := pattern[i]
		switch {
		case c == '/' && i+3 < n && pattern[i+1:i+4] == "**/":
			b.WriteString(`/(?:.*/)?`)
			i += 4
		case c == '*':
			if i+1 < n && pattern[i+1] == '*' {
				b.WriteString(`.*`)
				i += 2
			} else {
				b.WriteString(`[^/]*`)
				i++
			}
		case c == '?':
			b.WriteString(`[^/]`)
			i++
		case c == '[':
			j := i + 1
			if j < n && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < n && pattern[j] == ']' {
				j++
			}
			for j < n && pattern[j] != ']' {
				j++
			}
			if j >= n {
				// Unterminated class, treat the bracket literally.
				b.WriteString(`\[`)
				i++
				break
			}
			stuff := classEscaper.Replace(pattern[i+1 : j])
			if strings.HasPrefix(stuff, "!") {
				stuff = "^" + stuff[1:]
			}
			b.WriteString("[" + stuff + "]")
			i = j + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	b.WriteString(`\z`)
	return regexp.Compile(b.String())
}
