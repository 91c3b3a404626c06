// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// authIterations is the number of MD5 iterations applied over the seed
// string. Fixed to match the source platform's algorithm; covered by
// reference vectors in auth_test.go so a change here is caught immediately.
const authIterations = 32

// computeAuth derives the "auth" request parameter from the encryption
// material returned by getEncryption and the current timestamp
// (spec.md §4.3 step 2). The seed is the literal concatenation of
// randStr, key, encTime, isSpecial and currentTS; the seed is hashed once,
// then the hex digest is re-hashed concatenated with the original seed
// authIterations more times.
func computeAuth(randStr, key string, encTime, isSpecial int, currentTS int64) string {
	seed := fmt.Sprintf("%s%s%d%d%d", randStr, key, encTime, isSpecial, currentTS)
	digest := md5Hex(seed)
	for i := 0; i < authIterations; i++ {
		digest = md5Hex(digest + seed)
	}
	return digest
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
