/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package schema

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// DigestLength is the length of a hex-encoded sha256 digest
const DigestLength = sha256.Size * 2

// Digest returns the lowercase hex sha256 of data
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data hashes to expected
func Verify(data []byte, expected string) bool {
	actual := Digest(data)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(strings.ToLower(expected))) == 1
}

// VerifyContent returns a CorruptionError when data does not match expected
func VerifyContent(path string, data []byte, expected string) error {
	if Verify(data, expected) {
		return nil
	}
	return errors.NewCorruptionError(path, expected, Digest(data))
}

// ValidDigest reports whether s looks like a hex sha256 digest
func ValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
