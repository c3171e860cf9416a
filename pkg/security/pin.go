// Package security provides advisory analysis of PIN credentials and the
// journal's protection state. Nothing here blocks an operation.
package security

import (
	"strings"
	"unicode/utf8"
)

// PINStrength represents how guessable a 4-digit PIN is.
type PINStrength int

const (
	// PINWeak is a PIN found near the top of every guessing list.
	PINWeak PINStrength = iota
	// PINFair has a recognisable pattern.
	PINFair
	// PINGood has no obvious pattern.
	PINGood
)

// String returns a human-readable representation of the PIN strength.
func (s PINStrength) String() string {
	switch s {
	case PINWeak:
		return "Weak"
	case PINFair:
		return "Fair"
	case PINGood:
		return "Good"
	default:
		return "Unknown"
	}
}

// commonPINs are the most frequently chosen 4-digit PINs.
var commonPINs = map[string]bool{
	"1234": true, "1111": true, "0000": true, "1212": true, "7777": true,
	"1004": true, "2000": true, "4444": true, "2222": true, "6969": true,
	"9999": true, "3333": true, "5555": true, "6666": true, "1122": true,
	"1313": true, "8888": true, "4321": true, "2001": true, "1010": true,
}

// CheckPIN grades pin and returns the warnings that apply to it. pin is
// expected to be four ASCII digits; anything else is reported as Weak.
func CheckPIN(pin string) (PINStrength, []string) {
	if len(pin) != 4 {
		return PINWeak, []string{"PIN is not four digits"}
	}

	var warnings []string
	strength := PINGood

	switch {
	case allSame(pin):
		warnings = append(warnings, "PIN repeats a single digit")
	case isRun(pin, 1):
		warnings = append(warnings, "PIN is an ascending sequence")
	case isRun(pin, -1):
		warnings = append(warnings, "PIN is a descending sequence")
	case pin[0:2] == pin[2:4]:
		warnings = append(warnings, "PIN repeats a two-digit pair")
		strength = PINFair
	case looksLikeYear(pin):
		warnings = append(warnings, "PIN looks like a year")
		strength = PINFair
	}
	if len(warnings) > 0 && strength == PINGood {
		strength = PINWeak
	}

	if commonPINs[pin] {
		warnings = append(warnings, "PIN is one of the most commonly used PINs")
		strength = PINWeak
	}
	return strength, warnings
}

func allSame(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

func isRun(s string, step int) bool {
	for i := 1; i < len(s); i++ {
		if int(s[i])-int(s[i-1]) != step {
			return false
		}
	}
	return true
}

func looksLikeYear(s string) bool {
	return strings.HasPrefix(s, "19") || strings.HasPrefix(s, "20")
}

// CheckRecovery returns warnings about a security question and answer pair.
// question and answer are expected to be normalised already.
func CheckRecovery(question, answer string) []string {
	var warnings []string
	q := strings.ToLower(question)
	a := strings.ToLower(answer)

	if a != "" && strings.Contains(q, a) {
		warnings = append(warnings, "answer appears in the question")
	}
	if utf8.RuneCountInString(a) < 5 {
		warnings = append(warnings, "short answers are easier to guess")
	}
	switch a {
	case "yes", "no", "none", "n/a", "unknown", "idk":
		warnings = append(warnings, "answer is a common placeholder")
	}
	return warnings
}
