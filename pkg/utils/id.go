package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// scenarioNamespace scopes content-derived scenario ids.
var scenarioNamespace = uuid.MustParse("6f1c2a8e-93d4-4f0b-9a51-2c7de0b4a6f3")

// GenerateSeriesID returns a random identifier for a scenario series.
func GenerateSeriesID() string {
	return uuid.NewString()
}

// ContentID derives a stable short identifier from the given parts, so the
// same base file and modification always map to the same scenario id.
func ContentID(parts ...string) string {
	u := uuid.NewSHA1(scenarioNamespace, []byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(u[:6])
}

// GenerateRunID generates a run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().Format("20060102-150405")
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%s-%s", timestamp, uuid.NewString()[:8])
	}
	return fmt.Sprintf("run-%s-%s", timestamp, hex.EncodeToString(b))
}

// SanitizeID turns a free-form name into a directory-safe identifier.
// Characters outside [A-Za-z0-9._-] become '_'; leading dots are dropped.
func SanitizeID(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
