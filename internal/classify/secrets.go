package classify

import (
	"regexp"
	"sort"
)

// Finding is one secret-shaped span in a text.
type Finding struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

var secretPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"api_key", regexp.MustCompile(`\b(?:sk-(?:ant-|proj-)?[A-Za-z0-9_-]{20,}|AKIA[0-9A-Z]{16}|gh[pousr]_[A-Za-z0-9]{36,}|xox[abprs]-[A-Za-z0-9-]{10,}|AIza[0-9A-Za-z_-]{35}|glpat-[A-Za-z0-9_-]{20,})`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`)},
}

var cardCandidate = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

// ScanSecrets returns every high-confidence secret in text, ordered by offset.
// Card numbers must pass the Luhn check.
func ScanSecrets(text string) []Finding {
	var out []Finding
	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, Finding{Kind: p.kind, Start: loc[0], End: loc[1]})
		}
	}
	for _, loc := range cardCandidate.FindAllStringIndex(text, -1) {
		if luhn(text[loc[0]:loc[1]]) {
			out = append(out, Finding{Kind: "card_number", Start: loc[0], End: loc[1]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// luhn validates the digits of s, ignoring separators.
func luhn(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Redact replaces every finding in text with a [redacted:kind] marker.
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	var out []byte
	last := 0
	for _, f := range findings {
		if f.Start < last {
			continue
		}
		out = append(out, text[last:f.Start]...)
		out = append(out, "[redacted:"+f.Kind+"]"...)
		last = f.End
	}
	out = append(out, text[last:]...)
	return string(out)
}
