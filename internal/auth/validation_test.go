// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"meets every rule", "Pa$$w0rd", false},
		{"six characters", "Ab1!cd", false},
		{"too short", "Ab1!c", true},
		{"too long", "Ab1!" + strings.Repeat("x", auth.MaxPasswordLength), true},
		{"no digit", "Pa$$word", true},
		{"no lower", "PA$$W0RD", true},
		{"no upper", "pa$$w0rd", true},
		{"no symbol", "Passw0rd", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidatePassword(tt.password)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegisterInput_Validate(t *testing.T) {
	valid := auth.RegisterInput{UserName: "ann", Email: "ann@example.com", Password: "Pa$$w0rd"}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Email = "not-an-email"
	err := bad.Validate()
	errutil.AssertErrorCode(t, err, auth.CodeInvalidInput)
	errutil.AssertErrorContext(t, err, "Email", "must be a valid email address")

	bad = valid
	bad.UserName = ""
	errutil.AssertErrorCode(t, bad.Validate(), auth.CodeInvalidInput)

	bad = valid
	bad.DisplayName = strings.Repeat("x", 101)
	errutil.AssertErrorCode(t, bad.Validate(), auth.CodeInvalidInput)
}

func TestLoginInput_Validate(t *testing.T) {
	assert.NoError(t, auth.LoginInput{Login: "ann", Password: "x"}.Validate())
	errutil.AssertErrorCode(t, auth.LoginInput{Login: "ann"}.Validate(), auth.CodeInvalidInput)
	errutil.AssertErrorCode(t, auth.LoginInput{Password: "x"}.Validate(), auth.CodeInvalidInput)
}
