package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Violation identifies one failed strength rule.
type Violation string

const (
	ViolationTooShort         Violation = "too_short"
	ViolationTooLong          Violation = "too_long"
	ViolationMissingLowercase Violation = "missing_lowercase"
	ViolationMissingUppercase Violation = "missing_uppercase"
	ViolationMissingDigit     Violation = "missing_digit"
	ViolationMissingSpecial   Violation = "missing_special"
	ViolationCommonPassword   Violation = "common_password"
)

// DefaultSpecialCharacters is the set satisfying the special character rule.
const DefaultSpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"

const (
	DefaultMinLength = 8
	DefaultMaxLength = 128
)

var violationMessages = map[Violation]string{
	ViolationTooShort:         "password is too short",
	ViolationTooLong:          "password is too long",
	ViolationMissingLowercase: "password must contain a lowercase letter",
	ViolationMissingUppercase: "password must contain an uppercase letter",
	ViolationMissingDigit:     "password must contain a digit",
	ViolationMissingSpecial:   "password must contain a special character",
	ViolationCommonPassword:   "password is too common",
}

// Message returns a human readable description of v.
func (v Violation) Message() string {
	if msg, ok := violationMessages[v]; ok {
		return msg
	}
	return string(v)
}

func (v Violation) String() string {
	return string(v)
}

// commonPasswords is matched case-insensitively against the whole input.
var commonPasswords = []string{
	"password",
	"password1",
	"password1!",
	"password123",
	"password123!",
	"passw0rd!",
	"p@ssw0rd",
	"p@ssw0rd1",
	"p@ssword1",
	"welcome1!",
	"welcome123!",
	"qwerty123!",
	"qwerty1!",
	"letmein1!",
	"admin123!",
	"abc123!@#",
	"iloveyou1!",
	"changeme1!",
	"12345678",
	"123456789",
	"1234567890",
	"qwertyuiop",
}

// Policy checks password strength. The zero value is not usable; build one
// with DefaultPolicy or NewPolicy.
type Policy struct {
	minLength int
	maxLength int
	specials  string
	deny      map[string]struct{}
}

// DefaultPolicy returns the 8..128 rune policy with the built-in deny-list.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultMinLength, DefaultMaxLength)
}

// NewPolicy builds a policy with custom length bounds. extraDenied entries
// extend the built-in deny-list. Non-positive bounds fall back to defaults.
func NewPolicy(minLength, maxLength int, extraDenied ...string) *Policy {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	p := &Policy{
		minLength: minLength,
		maxLength: maxLength,
		specials:  DefaultSpecialCharacters,
		deny:      make(map[string]struct{}, len(commonPasswords)+len(extraDenied)),
	}
	for _, word := range commonPasswords {
		p.deny[strings.ToLower(word)] = struct{}{}
	}
	for _, word := range extraDenied {
		if word = strings.TrimSpace(word); word != "" {
			p.deny[strings.ToLower(word)] = struct{}{}
		}
	}
	return p
}

// MinLength returns the minimum accepted length in runes.
func (p *Policy) MinLength() int { return p.minLength }

// MaxLength returns the maximum accepted length in runes.
func (p *Policy) MaxLength() int { return p.maxLength }

// Validate returns every rule password violates, in a stable order. An
// empty result means the password is acceptable.
func (p *Policy) Validate(password string) []Violation {
	var out []Violation

	length := utf8.RuneCountInString(password)
	if length < p.minLength {
		out = append(out, ViolationTooShort)
	}
	if length > p.maxLength {
		out = append(out, ViolationTooLong)
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(p.specials, r):
			special = true
		}
	}
	if !lower {
		out = append(out, ViolationMissingLowercase)
	}
	if !upper {
		out = append(out, ViolationMissingUppercase)
	}
	if !digit {
		out = append(out, ViolationMissingDigit)
	}
	if !special {
		out = append(out, ViolationMissingSpecial)
	}

	if _, denied := p.deny[strings.ToLower(password)]; denied {
		out = append(out, ViolationCommonPassword)
	}
	return out
}
