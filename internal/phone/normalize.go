package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// suffixLen is the length of the stable trailing digit run used for matching.
// Caller IDs, mobile numbers and SIP trunk numbers for the same line differ in
// leading prefix (+91, 91, 0, nothing) but share the trailing subscriber digits.
const suffixLen = 10

// Normalize canonicalizes a raw phone string into a comparable digits-only
// suffix form. It is total: invalid or empty input normalizes to "", which
// must never participate in matching (see SuffixMatch).
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > suffixLen {
		return digits[len(digits)-suffixLen:]
	}
	return digits
}

// SuffixMatch reports whether the normalized forms of a and b refer to the
// same line. Empty normalized forms never match anything.
func SuffixMatch(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na)
}

// E164 formats raw into E.164 for outbound dialing, parsing against region
// when raw has no country code. Best-effort: unparseable input is returned
// trimmed but otherwise unchanged, since vendors accept national formats.
func E164(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if region == "" {
		region = "IN"
	}
	parsed, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return trimmed
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}
