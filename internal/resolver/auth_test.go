// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference vectors for the auth algorithm (spec.md §4.3 step 2), computed
// independently and pinned here so any change to the iteration count or
// seed layout is caught immediately.
func TestComputeAuthReferenceVectors(t *testing.T) {
	cases := []struct {
		name      string
		randStr   string
		key       string
		encTime   int
		isSpecial int
		currentTS int64
		want      string
	}{
		{
			name: "typical", randStr: "abcdef1234567890", key: "k3y_material_000",
			encTime: 1700000000, isSpecial: 0, currentTS: 1700000001,
			want: "9b0b7f504f9109e75f091f2f38da882d",
		},
		{
			name: "all empty/zero", randStr: "", key: "",
			encTime: 0, isSpecial: 1, currentTS: 0,
			want: "d01791f5fa9c473da70685ea8b846579",
		},
		{
			name: "alt inputs", randStr: "randstrXYZ", key: "keydata",
			encTime: 1712345678, isSpecial: 0, currentTS: 1712345680,
			want: "864ccddc59e336af14ba92d8af371699",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeAuth(tc.randStr, tc.key, tc.encTime, tc.isSpecial, tc.currentTS)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeAuthIsDeterministic(t *testing.T) {
	a := computeAuth("r", "k", 1, 0, 2)
	b := computeAuth("r", "k", 1, 0, 2)
	assert.Equal(t, a, b)
}

func TestComputeAuthSensitiveToEveryInput(t *testing.T) {
	base := computeAuth("r", "k", 1, 0, 2)
	assert.NotEqual(t, base, computeAuth("r2", "k", 1, 0, 2))
	assert.NotEqual(t, base, computeAuth("r", "k2", 1, 0, 2))
	assert.NotEqual(t, base, computeAuth("r", "k", 2, 0, 2))
	assert.NotEqual(t, base, computeAuth("r", "k", 1, 1, 2))
	assert.NotEqual(t, base, computeAuth("r", "k", 1, 0, 3))
}
