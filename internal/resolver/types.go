// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package resolver implements the stream-URL resolver (C3): it computes the
// signed play-info request, calls the source platform, and picks a playable
// media URL plus the headers the transcoder must use.
package resolver

import "time"

// EncryptionMaterial is the getEncryption response (spec.md §4.3 step 1),
// cached for 24h.
type EncryptionMaterial struct {
	EncData   string `json:"enc_data"`
	RandStr   string `json:"rand_str"`
	Key       string `json:"key"`
	EncTime   int    `json:"enc_time"`
	IsSpecial int    `json:"is_special"`
}

type getEncryptionResponse struct {
	Data EncryptionMaterial `json:"data"`
}

// playInfoResponse is the getH5PlayV1 response; only the fields needed to
// pick a media URL are modeled.
type playInfoResponse struct {
	Data struct {
		RTMPURL  string `json:"rtmp_url"`
		RTMPLive string `json:"rtmp_live"`
		HLSURL   string `json:"hls_url"`
		HLSLive  string `json:"hls_live"`
	} `json:"data"`
}

// Result is what Resolve returns: a playable URL plus the headers the
// transcoder must send.
type Result struct {
	URL     string
	Headers map[string]string
}

// cacheEntry is what is actually persisted in the cache backend.
type cacheEntry struct {
	Material  EncryptionMaterial `json:"material"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// EncryptionTTL is how long getEncryption material is cached before a
// forced refetch (spec.md §4.3 "caches encryption material for 24 hours").
const EncryptionTTL = 24 * time.Hour
