// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
	"github.com/stretchr/testify/require"
)

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		rc   int
		kind Kind
	}{
		{sqlite0.Constraint, KindConstraint},
		{sqlite0.Constraint | (5 << 8), KindConstraint}, // extended code
		{sqlite0.Busy, KindOperational},
		{sqlite0.Locked | (1 << 8), KindOperational},
		{sqlite0.IOErr, KindOperational},
		{sqlite0.Full, KindOperational},
		{sqlite0.CantOpen, KindOperational},
		{sqlite0.Interrupt, KindOperational},
		{sqlite0.GenericError, KindProgramming},
		{sqlite0.Misuse, KindProgramming},
		{sqlite0.Range, KindProgramming},
		{sqlite0.NotADB, KindDatabase},
	}
	for _, c := range cases {
		err := classify("op", sqlite0.NewError(c.rc, "test", "boom"))
		require.Error(t, err)
		require.Equal(t, c.kind, KindOf(err), "rc=%d", c.rc)
	}
}

func TestClassifyNonEngineErrors(t *testing.T) {
	require.NoError(t, classify("op", nil))

	err := classify("op", errors.New("plain"))
	require.Equal(t, KindOperational, KindOf(err))

	// Already classified errors pass through unchanged, even when wrapped.
	inner := programming("fetch_one", ErrNoRows)
	require.Same(t, inner, classify("outer", inner))
	wrapped := classify("outer", fmt.Errorf("context: %w", inner))
	require.Equal(t, KindProgramming, KindOf(wrapped))
	require.True(t, errors.Is(wrapped, ErrNoRows))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "constraint", KindConstraint.String())
	require.Equal(t, "operational", KindOperational.String())
	require.Equal(t, "programming", KindProgramming.String())
	require.Equal(t, "database", KindDatabase.String())
}

func TestErrorMessage(t *testing.T) {
	err := operational("begin", ErrTxActive)
	require.Contains(t, err.Error(), "begin")
	require.True(t, errors.Is(err, ErrTxActive))
}
