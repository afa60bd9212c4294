package crypto

import "github.com/maruel/natural"

// CompareNatural orders strings so that embedded runs of digits compare by
// numeric value: "2_x" sorts before "10_x". It returns -1, 0 or +1.
func CompareNatural(a, b string) int {
	switch {
	case a == b:
		return 0
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	}
	// Numerically equal runs such as "01" and "1" fall back to byte order.
	if a < b {
		return -1
	}
	return 1
}
