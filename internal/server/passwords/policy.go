// Package passwords holds the password strength policy and the bcrypt
// credential hasher used by the session service.
package passwords

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// Tier is a named strictness level of the password policy.
type Tier string

const (
	TierNone   Tier = "none"
	TierLight  Tier = "light"
	TierMedium Tier = "medium"
	TierStrong Tier = "strong"
)

// SpecialChars is the punctuation set accepted as "special" by the medium
// and strong tiers.
const SpecialChars = `!@#$%^&*()_+-=[]{};:\|,.<>/?~`

const similarityThreshold = 0.7

var ErrUnknownTier = errors.New("unknown password tier")

// ValidationError lists every rule a password failed. It matches
// common.ErrPasswordValidation under errors.Is.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", common.ErrPasswordValidation, strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == common.ErrPasswordValidation
}

// ParseTier maps a case-insensitive tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierNone, TierLight, TierMedium, TierStrong:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

type rules struct {
	minLen     int
	letter     bool
	digit      bool
	special    bool
	lower      bool
	upper      bool
	email      bool
	commonList bool
}

func rulesFor(t Tier) rules {
	switch t {
	case TierLight:
		return rules{minLen: 8, letter: true, digit: true}
	case TierMedium:
		return rules{minLen: 12, letter: true, digit: true, special: true, email: true, commonList: true}
	case TierStrong:
		return rules{minLen: 12, letter: true, digit: true, special: true, lower: true, upper: true, email: true, commonList: true}
	}
	return rules{}
}

// Validator checks passwords against one tier. It is immutable after
// construction and safe for concurrent use.
type Validator struct {
	tier   Tier
	rules  rules
	common map[string]struct{}
}

// NewValidator builds a Validator for the named tier. A nil common set is
// treated as empty.
func NewValidator(tier string, commonSet map[string]struct{}) (*Validator, error) {
	t, err := ParseTier(tier)
	if err != nil {
		return nil, err
	}
	if commonSet == nil {
		commonSet = map[string]struct{}{}
	}
	return &Validator{tier: t, rules: rulesFor(t), common: commonSet}, nil
}

func (v *Validator) Tier() Tier {
	return v.tier
}

// Validate returns nil when password satisfies the tier, otherwise a
// *ValidationError with all failing reasons.
func (v *Validator) Validate(password, email string) error {
	var reasons []string

	if v.tier == TierNone {
		if password == "" {
			reasons = append(reasons, "password cannot be empty")
		}
		return asError(reasons)
	}

	r := v.rules
	if utf8.RuneCountInString(password) < r.minLen {
		reasons = append(reasons, fmt.Sprintf("password must be at least %d characters long", r.minLen))
	}
	if r.letter && !strings.ContainsFunc(password, isASCIILetter) {
		reasons = append(reasons, "password must contain at least one letter")
	}
	if r.digit && !strings.ContainsFunc(password, unicode.IsDigit) {
		reasons = append(reasons, "password must contain at least one digit")
	}
	if r.special && !strings.ContainsAny(password, SpecialChars) {
		reasons = append(reasons, "password must contain at least one special character")
	}
	if r.lower && !strings.ContainsFunc(password, isASCIILower) {
		reasons = append(reasons, "password must contain at least one lowercase letter")
	}
	if r.upper && !strings.ContainsFunc(password, isASCIIUpper) {
		reasons = append(reasons, "password must contain at least one uppercase letter")
	}
	if r.email && email != "" {
		if reason := emailReason(password, email); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	if r.commonList {
		if _, ok := v.common[password]; ok {
			reasons = append(reasons, "password is too common")
		}
	}

	return asError(reasons)
}

func asError(reasons []string) error {
	if len(reasons) == 0 {
		return nil
	}
	return &ValidationError{Reasons: reasons}
}

func emailReason(password, email string) string {
	p := strings.ToLower(password)
	local := strings.ToLower(email)
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	if local == "" {
		return ""
	}

	switch {
	case p == local:
		return "password must not match the email"
	case strings.Contains(p, local):
		return "password must not contain the email"
	case Similarity(local, p) > similarityThreshold:
		return "password is too similar to the email"
	}
	return ""
}

func isASCIILetter(r rune) bool { return isASCIILower(r) || isASCIIUpper(r) }
func isASCIILower(r rune) bool  { return r >= 'a' && r <= 'z' }
func isASCIIUpper(r rune) bool  { return r >= 'A' && r <= 'Z' }
