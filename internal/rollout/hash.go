// Package rollout implements deterministic variant assignment: the Hash
// Allocator, Variant Selector, Rollout Validator and Toggle Policy of the
// experimentation engine.
package rollout

import (
	"crypto/md5"
	"math/big"
)

// bucketResolution is the denominator of the hash's output resolution
// (10^-4): two users in the same experiment with colliding hash buckets
// is an accepted approximation, not a bug.
const bucketResolution = 10000

// Hash maps a (user id, experiment id) pair to a value in [0, 1).
//
// It concatenates the two identifiers as "user_id:experiment_id", takes
// the MD5 digest of the UTF-8 bytes, interprets the full 128-bit digest
// as an unsigned integer, and reduces it modulo 10000. This is a hard
// cross-language compatibility contract: any reimplementation must
// produce byte-identical output for the same inputs, so the algorithm is
// pinned exactly as specified rather than reusing the xxHash-based
// bucketing the rest of this codebase's ancestry used.
func Hash(userID, experimentID string) float64 {
	sum := md5.Sum([]byte(userID + ":" + experimentID))
	n := new(big.Int).SetBytes(sum[:])
	bucket := new(big.Int).Mod(n, big.NewInt(bucketResolution))
	return float64(bucket.Int64()) / float64(bucketResolution)
}
