// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fingerprint computes artifact fingerprints.
//
// The fingerprint is the standard CRC-32 (IEEE polynomial, the same value
// zlib and gzip produce), rendered as exactly 8 lowercase hex digits on
// every external surface: metadata files, history entries, HTTP headers,
// and the crc32 download endpoint.
package fingerprint

import (
	"fmt"
	"hash/crc32"
)

// Sum returns the IEEE CRC-32 of the byte sequence.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Format renders a CRC-32 value as 8 lowercase hex digits.
func Format(sum uint32) string {
	return fmt.Sprintf("%08x", sum)
}

// Hex is shorthand for Format(Sum(data)).
func Hex(data []byte) string {
	return Format(Sum(data))
}
