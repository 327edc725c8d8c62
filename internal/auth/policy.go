package auth

import (
	"fmt"
	"time"
	"unicode"
)

// Password policy rule codes reported in ValidationError.Rule.
const (
	RuleTooShort         = "too_short"
	RuleTooLong          = "too_long"
	RuleMissingUppercase = "missing_uppercase"
	RuleMissingLowercase = "missing_lowercase"
	RuleMissingDigit     = "missing_digit"
	RuleMissingSpecial   = "missing_special"
	RuleWrongPassword    = "wrong_current_password"
	RuleSamePassword     = "password_unchanged"
)

// maxPasswordLength bounds the work an attacker can force through Argon2id.
const maxPasswordLength = 128

// PasswordPolicy is the set of rules a new password must satisfy.
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumbers   bool `json:"require_numbers"`
	RequireSpecial   bool `json:"require_special"`
	// MaxAgeDays is how long a password stays current. Zero disables expiry.
	MaxAgeDays int `json:"max_age_days"`
}

// DefaultPasswordPolicy returns the rules used when a tenant sets none.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		MaxAgeDays:       90,
	}
}

// Validate returns a *ValidationError naming the first rule password breaks.
func (p PasswordPolicy) Validate(password string) error {
	length := len([]rune(password))
	if length < p.MinLength {
		return &ValidationError{
			Field:   "password",
			Rule:    RuleTooShort,
			Message: fmt.Sprintf("password must be at least %d characters", p.MinLength),
		}
	}
	if length > maxPasswordLength {
		return &ValidationError{
			Field:   "password",
			Rule:    RuleTooLong,
			Message: fmt.Sprintf("password must be at most %d characters", maxPasswordLength),
		}
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	switch {
	case p.RequireUppercase && !upper:
		return &ValidationError{Field: "password", Rule: RuleMissingUppercase, Message: "password must contain an uppercase letter"}
	case p.RequireLowercase && !lower:
		return &ValidationError{Field: "password", Rule: RuleMissingLowercase, Message: "password must contain a lowercase letter"}
	case p.RequireNumbers && !digit:
		return &ValidationError{Field: "password", Rule: RuleMissingDigit, Message: "password must contain a digit"}
	case p.RequireSpecial && !special:
		return &ValidationError{Field: "password", Rule: RuleMissingSpecial, Message: "password must contain a special character"}
	}
	return nil
}

// Expired reports whether a password changed at changedAt is past its
// maximum age at now. A nil changedAt is treated as expired when the policy
// enforces an age.
func (p PasswordPolicy) Expired(changedAt *time.Time, now time.Time) bool {
	if p.MaxAgeDays <= 0 {
		return false
	}
	if changedAt == nil {
		return true
	}
	return !now.Before(changedAt.Add(time.Duration(p.MaxAgeDays) * 24 * time.Hour))
}
