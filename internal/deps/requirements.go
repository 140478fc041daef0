package deps

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// packageNamePattern matches the distribution name at the start of a
// requirement specifier (PEP 508), before any extras, version constraints or
// environment markers.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?`)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// normalizeName canonicalizes a distribution name per PEP 503: lowercase,
// with runs of `-`, `_` and `.` collapsed to a single dash.
func normalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// specName extracts the normalized package name from a requirement specifier
// such as "ops==2.4.1" or "Jinja2>=3". Empty when the line is not a plain
// specifier (URLs, options, includes).
func specName(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.HasPrefix(spec, "-") || strings.Contains(spec, "://") {
		return ""
	}
	m := packageNamePattern.FindString(spec)
	if m == "" {
		return ""
	}
	return normalizeName(m)
}

// namesFromRequirementFile collects the normalized package names declared in
// a pip requirements file. Comments, options and continuation backslashes are
// skipped; only plain specifier lines contribute names.
func namesFromRequirementFile(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		line = strings.TrimSuffix(line, `\`)
		if name := specName(line); name != "" {
			names[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}
