// Package natsort implements natural ordering for file names: embedded
// digit runs compare by numeric value, so "file2" sorts before "file10".
package natsort

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// chunk is one digit or non-digit run of a normalized name.
type chunk struct {
	text    string
	numeric bool
}

// Less reports whether a orders before b under natural ordering.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Compare returns -1, 0, or 1 comparing a and b naturally.
// Digit runs compare by numeric value; text runs compare
// case-insensitively. Names are NFC-normalized first so composed and
// decomposed Unicode spellings order the same way.
func Compare(a, b string) int {
	ak := split(norm.NFC.String(a))
	bk := split(norm.NFC.String(b))

	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := compareChunk(ak[i], bk[i]); c != 0 {
			return c
		}
	}
	if len(ak) != len(bk) {
		if len(ak) < len(bk) {
			return -1
		}
		return 1
	}
	// Keys tie (e.g. "01" vs "1"); fall back to the raw strings so the
	// ordering stays total and deterministic.
	return strings.Compare(a, b)
}

func compareChunk(a, b chunk) int {
	if a.numeric && b.numeric {
		return compareNumeric(a.text, b.text)
	}
	if a.numeric != b.numeric {
		// Digits sort before text, matching ASCII order.
		if a.numeric {
			return -1
		}
		return 1
	}
	return strings.Compare(strings.ToLower(a.text), strings.ToLower(b.text))
}

// compareNumeric compares two digit runs by value without parsing them
// into integers, so arbitrarily long runs cannot overflow.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// split breaks name into alternating digit and non-digit runs.
func split(name string) []chunk {
	var chunks []chunk
	var cur strings.Builder
	curNumeric := false

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, chunk{text: cur.String(), numeric: curNumeric})
			cur.Reset()
		}
	}

	for _, r := range name {
		numeric := r >= '0' && r <= '9'
		if cur.Len() > 0 && numeric != curNumeric {
			flush()
		}
		curNumeric = numeric
		cur.WriteRune(r)
	}
	flush()
	return chunks
}
