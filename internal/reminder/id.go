package reminder

import "math/rand"

// IDLength is the length of a short reminder ID.
const IDLength = 4

// idAlphabet deliberately drops lookalikes (0/o, 1/l) so IDs survive being
// retyped from a chat message.
const idAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// NewID draws a random short ID. Uniqueness is the store's job: callers
// must retry on collision, never overwrite.
func NewID(rng *rand.Rand) string {
	b := make([]byte, IDLength)
	for i := range b {
		b[i] = idAlphabet[rng.Intn(len(idAlphabet))]
	}
	return string(b)
}
