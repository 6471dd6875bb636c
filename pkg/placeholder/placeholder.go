package placeholder

import (
	"regexp"
	"sort"
)

var (
	pattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)
	// braces matches any {{...}} span, well-formed or not.
	braces = regexp.MustCompile(`\{\{[^{}]*\}\}`)
)

// Names returns the distinct placeholder names referenced by text, sorted.
func Names(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render substitutes every {{name}} found in vars. Placeholders without a
// value are left untouched and reported, sorted and deduplicated, in missing.
// A {{...}} span that is not a valid name, such as "{{ foo bar }}" or "{{}}",
// can never be filled and is reported verbatim.
func Render(text string, vars map[string]string) (out string, missing []string) {
	unresolved := map[string]struct{}{}
	for _, span := range braces.FindAllString(text, -1) {
		if !pattern.MatchString(span) {
			unresolved[span] = struct{}{}
		}
	}
	out = pattern.ReplaceAllStringFunc(text, func(match string) string {
		name := pattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		unresolved[name] = struct{}{}
		return match
	})

	for n := range unresolved {
		missing = append(missing, n)
	}
	sort.Strings(missing)
	return out, missing
}
