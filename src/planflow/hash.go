package planflow

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPrompt fingerprints the prompt inputs. The hash is stored on the
// plan so regenerations can be traced back to the exact answers that
// produced them.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
