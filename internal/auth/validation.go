// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/samber/oops"
)

// Password policy.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

// RegisterInput is the data needed to create a password account.
type RegisterInput struct {
	UserName    string
	Email       string
	Password    string
	DisplayName string
	FirstName   string
	LastName    string
	Address     *Address
}

// Validate checks required fields, email format and the password policy.
func (in RegisterInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.UserName, validation.Required, validation.Length(3, 64)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&in.Password, validation.Required,
			validation.Length(MinPasswordLength, MaxPasswordLength),
			validation.By(passwordComplexity)),
		validation.Field(&in.DisplayName, validation.Length(0, 100)),
		validation.Field(&in.FirstName, validation.Length(0, 100)),
		validation.Field(&in.LastName, validation.Length(0, 100)),
	)
	return invalidInput(err)
}

// LoginInput is a password sign-in attempt. Login may be an email address or
// a login name.
type LoginInput struct {
	Login    string
	Password string
	Remember bool
}

// Validate checks both fields are present.
func (in LoginInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Login, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
	return invalidInput(err)
}

// ValidatePassword applies the password policy on its own, for resets.
func ValidatePassword(password string) error {
	err := validation.Validate(password, validation.Required,
		validation.Length(MinPasswordLength, MaxPasswordLength),
		validation.By(passwordComplexity))
	if err != nil {
		return oops.Code(CodeInvalidInput).With("field", "password").Wrap(err)
	}
	return nil
}

// passwordComplexity requires a digit, a lower-case letter, an upper-case
// letter and a symbol.
func passwordComplexity(value any) error {
	s, _ := value.(string)
	var digit, lower, upper, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case !digit:
		return errors.New("must contain a digit")
	case !lower:
		return errors.New("must contain a lower-case letter")
	case !upper:
		return errors.New("must contain an upper-case letter")
	case !symbol:
		return errors.New("must contain a symbol")
	}
	return nil
}

func invalidInput(err error) error {
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		b := oops.Code(CodeInvalidInput)
		for name, ferr := range fields {
			b = b.With(name, ferr.Error())
		}
		return b.Wrap(err)
	}
	return oops.Code(CodeInvalidInput).Wrap(err)
}
