// Package kennitala validates and generates Icelandic national registry
// identifiers. A kennitala has ten digits: DDMMYY, a two digit sequence,
// a check digit and a century digit. Companies add 40 to the day.
package kennitala

import (
	"fmt"
	"strings"
	"time"
)

// Kind of holder encoded by a kennitala.
type Kind int

const (
	Person Kind = iota
	Company
)

const companyDayOffset = 40

var weights = [8]int{3, 2, 7, 6, 5, 4, 3, 2}

// Clean strips the separators commonly written inside a kennitala
// ("010130-2989", "010130 2989").
func Clean(s string) string {
	return strings.NewReplacer("-", "", " ", "", " ", "").Replace(strings.TrimSpace(s))
}

// Checksum computes the check digit for the first eight digits of kt.
// ok is false when no single digit can satisfy the checksum.
func Checksum(kt string) (digit byte, ok bool) {
	if len(kt) < 8 || !allDigits(kt[:8]) {
		return 0, false
	}
	sum := 0
	for i, w := range weights {
		sum += int(kt[i]-'0') * w
	}
	c := 11 - sum%11
	switch c {
	case 11:
		return '0', true
	case 10:
		return 0, false
	}
	return byte('0' + c), true
}

// Validate reports whether kt is a well formed kennitala: ten digits, a real
// calendar date and a matching check digit.
func Validate(kt string) bool {
	kt = Clean(kt)
	if len(kt) != 10 || !allDigits(kt) {
		return false
	}
	if _, err := BirthDate(kt); err != nil {
		return false
	}
	c, ok := Checksum(kt)
	return ok && c == kt[8]
}

// IsPerson reports whether kt belongs to a person (first digit 0-3).
func IsPerson(kt string) bool {
	kt = Clean(kt)
	return len(kt) > 0 && kt[0] <= '3'
}

// KindOf returns the holder kind encoded in kt.
func KindOf(kt string) Kind {
	if IsPerson(kt) {
		return Person
	}
	return Company
}

// BirthDate returns the birth or incorporation date encoded in kt.
func BirthDate(kt string) (time.Time, error) {
	kt = Clean(kt)
	if len(kt) != 10 || !allDigits(kt) {
		return time.Time{}, fmt.Errorf("kennitala must be ten digits: %q", kt)
	}
	day := atoi2(kt[0:2])
	if day > companyDayOffset {
		day -= companyDayOffset
	}
	month := atoi2(kt[2:4])
	year := atoi2(kt[4:6])

	switch kt[9] {
	case '8':
		year += 1800
	case '9':
		year += 1900
	case '0':
		year += 2000
	default:
		return time.Time{}, fmt.Errorf("invalid century digit %q", kt[9])
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return time.Time{}, fmt.Errorf("invalid date in kennitala %q", kt)
	}
	return d, nil
}

// Generate builds a kennitala for date with the given two digit sequence.
// It fails when the sequence yields no valid check digit; callers move on
// to the next sequence.
func Generate(date time.Time, sequence int, kind Kind) (string, error) {
	if sequence < 0 || sequence > 99 {
		return "", fmt.Errorf("sequence out of range: %d", sequence)
	}

	var century byte
	switch y := date.Year(); {
	case y >= 1800 && y < 1900:
		century = '8'
	case y >= 1900 && y < 2000:
		century = '9'
	case y >= 2000 && y < 2100:
		century = '0'
	default:
		return "", fmt.Errorf("year out of range: %d", y)
	}

	day := date.Day()
	if kind == Company {
		day += companyDayOffset
	}
	prefix := fmt.Sprintf("%02d%02d%02d%02d", day, int(date.Month()), date.Year()%100, sequence)
	c, ok := Checksum(prefix)
	if !ok {
		return "", fmt.Errorf("sequence %d has no valid check digit for %s", sequence, date.Format("2006-01-02"))
	}
	return prefix + string(c) + string(century), nil
}

// Format renders kt with the conventional dash: "DDMMYY-NNNN".
func Format(kt string) string {
	kt = Clean(kt)
	if len(kt) != 10 {
		return kt
	}
	return kt[:6] + "-" + kt[6:]
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
