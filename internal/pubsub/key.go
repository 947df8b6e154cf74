package pubsub

import "math/rand/v2"

// KeyLength is the number of decimal digits in a subscription key.
const KeyLength = 10

var randDigit = func() byte {
	return byte('0' + rand.IntN(10))
}

// generateKey returns a random KeyLength-digit key not present in existing.
func generateKey(existing map[string]struct{}) string {
	buf := make([]byte, KeyLength)
	for {
		for i := range buf {
			buf[i] = randDigit()
		}
		key := string(buf)
		if _, taken := existing[key]; !taken {
			return key
		}
	}
}
