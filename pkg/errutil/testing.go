// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCoded(t *testing.T, err error, want string) oops.OopsError {
	t.Helper()
	require.Errorf(t, err, "expected a %s error", want)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected %s as a coded error, got %T: %v", want, err, err)
	return oopsErr
}

// AssertErrorCode checks that err carries code, e.g. NICK_TAKEN or
// LISTEN_FAILED. In a chain of coded errors the innermost code counts.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	got := requireCoded(t, err, code).Code()
	assert.Equalf(t, code, got, "code of %q", err.Error())
}

// AssertErrorContext checks one context entry, such as the "field" of a
// CONFIG_INVALID error.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireCoded(t, err, key).Context()
	if assert.Containsf(t, ctx, key, "context of %q", err.Error()) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertCodedSentinel checks that err carries code and still matches
// sentinel through errors.Is, as parse and framing errors must.
func AssertCodedSentinel(t *testing.T, err error, code string, sentinel error) {
	t.Helper()
	require.ErrorIs(t, err, sentinel)
	AssertErrorCode(t, err, code)
}
