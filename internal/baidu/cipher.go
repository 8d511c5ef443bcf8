package baidu

import (
	"strconv"
	"strings"
)

// Decrypt decodes an obfuscated series using the per-response key served by
// the ptbk endpoint. The first half of the key maps onto the second half:
// key rune i substitutes for key rune len/2+i. Ciphertext runes with no
// mapping pass through unchanged. An empty key yields an empty string.
func Decrypt(key, ciphertext string) string {
	if key == "" {
		return ""
	}

	keyRunes := []rune(key)
	half := len(keyRunes) / 2

	mapping := make(map[rune]rune, half)
	for i := 0; i < half; i++ {
		mapping[keyRunes[i]] = keyRunes[half+i]
	}

	var out strings.Builder
	for _, r := range ciphertext {
		if mapped, ok := mapping[r]; ok {
			out.WriteRune(mapped)
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// ParseSeries splits a decoded series on commas into integer data points.
// Empty and malformed segments decode as zero, so one bad point never sinks
// the series.
func ParseSeries(decoded string) []int64 {
	if decoded == "" {
		return nil
	}

	segments := strings.Split(decoded, ",")
	points := make([]int64, len(segments))
	for i, segment := range segments {
		n, err := strconv.ParseInt(segment, 10, 64)
		if err != nil {
			continue
		}
		points[i] = n
	}
	return points
}
