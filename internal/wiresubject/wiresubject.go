// Package wiresubject extracts the numeric challenge code embedded in
// a wire transfer's subject line, shared by the ingester (which mints
// the event) and the IBAN plugin (which re-derives it to verify a
// transfer found by polling).
package wiresubject

import "strings"

// keyword is the case-insensitive marker the wire-transfer subject
// must contain before a digit run is accepted as a challenge code
// (spec.md §4.3).
const keyword = "anastasis"

// ExtractCode scans subject case-insensitively for keyword; if absent,
// ok is false. Otherwise it reads the first contiguous run of decimal
// digits anywhere in the subject and parses it as an unsigned integer;
// if no digit run exists, ok is false.
func ExtractCode(subject string) (code uint64, ok bool) {
	if !strings.Contains(strings.ToLower(subject), keyword) {
		return 0, false
	}

	start := -1
	for i, r := range subject {
		if r >= '0' && r <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0, false
	}

	var value uint64
	for i := start; i < len(subject); i++ {
		c := subject[i]
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + uint64(c-'0')
	}
	return value, true
}

// HasCode reports whether subject's extracted code equals code.
func HasCode(subject string, code uint64) bool {
	got, ok := ExtractCode(subject)
	return ok && got == code
}
