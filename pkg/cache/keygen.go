package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key derives a deterministic cache key from an operation's identity and
// its arguments. Two calls with equal arguments map to the same key;
// argument order matters. Arguments are canonicalized through JSON
// marshalling (map keys are sorted by encoding/json), so equivalent
// argument sets serialize identically regardless of construction order.
func Key(prefix, opName string, args []interface{}) (string, error) {
	argBytes, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal arguments: %w", err)
	}

	hash := sha256.Sum256(argBytes)

	return KeyPrefix(prefix, opName) + hex.EncodeToString(hash[:]), nil
}

// KeyPrefix returns the key namespace shared by all entries of one
// operation. DeletePrefix over this value implements per-operation
// invalidation.
func KeyPrefix(prefix, opName string) string {
	return prefix + opName + ":"
}
