package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/width"
)

const manMultiplier = 10000

// Amount normalizes a requested support amount to a comma-grouped decimal
// integer string. Full-width digits are narrowed first. When the text
// contains 万 the digits before it are multiplied by 10,000; otherwise every
// non-digit is dropped. If no positive integer results, raw is returned
// unchanged.
func Amount(raw string) string {
	if raw == "" {
		return ""
	}

	s := width.Narrow.String(raw)
	multiplier := int64(1)
	if before, _, found := strings.Cut(s, "万"); found {
		s = before
		multiplier = manMultiplier
	}

	digits := onlyDigits(s)
	if digits == "" {
		return raw
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 || n > math.MaxInt64/multiplier {
		return raw
	}
	return humanize.Comma(n * multiplier)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
