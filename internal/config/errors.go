// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// ErrInvalid classifies configuration that fails validation at load time.
// Use errors.Is(err, ErrInvalid) rather than string matching.
var ErrInvalid = errors.New("invalid configuration")
