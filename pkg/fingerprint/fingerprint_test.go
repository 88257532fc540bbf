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

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum_KnownValues(t *testing.T) {
	// Reference values from the zlib crc32 implementation.
	assert.Equal(t, uint32(0x00000000), Sum(nil))
	assert.Equal(t, uint32(0x00000000), Sum([]byte{}))
	assert.Equal(t, uint32(0xcbf43926), Sum([]byte("123456789")))
	assert.Equal(t, uint32(0x414fa339), Sum([]byte("The quick brown fox jumps over the lazy dog")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "00000000", Format(0))
	assert.Equal(t, "cbf43926", Format(0xcbf43926))
	assert.Equal(t, "0000002a", Format(42))
	assert.Equal(t, "ffffffff", Format(0xffffffff))
}

func TestHex(t *testing.T) {
	got := Hex([]byte("123456789"))
	assert.Equal(t, "cbf43926", got)
	assert.Len(t, got, 8)
}

func TestHex_AlwaysEightLowercase(t *testing.T) {
	inputs := [][]byte{nil, []byte("a"), []byte("ab"), []byte{0xff, 0x00, 0x12}}
	for _, in := range inputs {
		h := Hex(in)
		assert.Len(t, h, 8)
		assert.Equal(t, h, Format(Sum(in)))
		for _, r := range h {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "digit %q", r)
		}
	}
}
