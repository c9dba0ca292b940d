package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// HashPII normalizes (trim + lower-case) and SHA-256 hashes an identifying
// field. Empty or missing input yields nil, never the hash of "".
func HashPII(value *string) *string {
	if value == nil {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(*value))
	if normalized == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(normalized))
	hashed := hex.EncodeToString(sum[:])
	return &hashed
}

// NormalizePhone canonicalizes a phone number to E.164 before hashing.
// The ad platform only matches hashes computed over canonical E.164 strings;
// an unnormalized hash silently degrades match rate without any error.
// Rules: keep digits only; exactly 10 digits get the default country calling
// code prepended; anything else just gets a leading "+".
func NormalizePhone(raw string, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		return "+" + countryCode + digits
	}
	return "+" + digits
}

func HashPhone(value *string, countryCode string) *string {
	if value == nil {
		return nil
	}
	normalized := NormalizePhone(*value, countryCode)
	if normalized == "" {
		return nil
	}
	return HashPII(&normalized)
}

// CountryCallingCode resolves a region (e.g. "US", "GB") to its calling code
// digits. Unknown regions fall back to "1".
func CountryCallingCode(region string) string {
	code := libphonenumber.GetCountryCodeForRegion(strings.ToUpper(strings.TrimSpace(region)))
	if code == 0 {
		return "1"
	}
	return strconv.Itoa(code)
}

// GenerateEventId builds a dedup key for producers that did not supply one:
// base-36 millisecond timestamp plus a short random suffix.
func GenerateEventId(prefix string) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = "evt"
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.Intn(len(base36Alphabet))]
	}
	return prefix + "_" + ts + "_" + string(suffix)
}
