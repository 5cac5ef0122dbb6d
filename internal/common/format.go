package common

import (
	"fmt"
	"strings"
)

// FormatMoney renders a value as $1,234.56. Negative values keep the sign
// ahead of the dollar symbol.
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%s", sign, groupThousands(fmt.Sprintf("%.2f", v)))
}

// FormatSignedMoney is FormatMoney with an explicit + on gains.
func FormatSignedMoney(v float64) string {
	if v > 0 {
		return "+" + FormatMoney(v)
	}
	return FormatMoney(v)
}

// FormatSignedPct renders a percentage with an explicit sign, e.g. +8.29%.
func FormatSignedPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func groupThousands(s string) string {
	intPart, fracPart, _ := strings.Cut(s, ".")
	n := len(intPart)
	if n <= 3 {
		return intPart + "." + fracPart
	}
	var sb strings.Builder
	rem := n % 3
	if rem > 0 {
		sb.WriteString(intPart[:rem])
	}
	for i := rem; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(intPart[i : i+3])
	}
	return sb.String() + "." + fracPart
}
