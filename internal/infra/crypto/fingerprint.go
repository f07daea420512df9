package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// FingerprintPrefix tags a value as a hex-encoded SHA-256 content hash.
const FingerprintPrefix = "0x"

const fingerprintHexLen = sha256.Size * 2

// Fingerprint returns the content hash of input, e.g. "0x9f86d0...".
func Fingerprint(input []byte) string {
	return FingerprintPrefix + sha256Hex(input)
}

// FingerprintReader streams r through SHA-256 and returns the same value
// Fingerprint would return for the full contents.
func FingerprintReader(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("reader is nil")
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return FingerprintPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// ValidFingerprint reports whether value has the shape produced by Fingerprint.
func ValidFingerprint(value string) bool {
	if !strings.HasPrefix(value, FingerprintPrefix) {
		return false
	}
	digest := value[len(FingerprintPrefix):]
	if len(digest) != fingerprintHexLen {
		return false
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// FingerprintBytes decodes a fingerprint into its 32 digest bytes.
func FingerprintBytes(value string) ([32]byte, error) {
	var out [32]byte
	if !ValidFingerprint(value) {
		return out, errors.New("invalid fingerprint")
	}
	raw, err := hex.DecodeString(value[len(FingerprintPrefix):])
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
