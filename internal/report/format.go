package report

import (
	"fmt"
	"strings"
)

// FormatNumber formats n with thousand separators.
func FormatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCost formats a USD amount to six decimals.
func FormatCost(c float64) string {
	return fmt.Sprintf("$%.6f", c)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
