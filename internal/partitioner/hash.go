package partitioner

import (
	"hash/fnv"
)

// HashFnv hashes a routing key with FNV-1a. Every processor routes with the
// same function so all upstreams of an operator pick the same downstream
// instance for a given key.
func HashFnv(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// Pick selects one of n instances for the given key.
func Pick(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	return int(HashFnv(key) % uint64(n))
}
