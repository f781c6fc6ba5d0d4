package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// minorUnitDigits — количество знаков дробной части суммы в валюте шлюза.
const minorUnitDigits = 2

// ParseAmountMinor разбирает десятичную сумму ("499", "499.5", "499.50") в минорные единицы без потери точности.
// Больше двух знаков после точки допускается только при нулевом хвосте.
func ParseAmountMinor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidPayload)
	}

	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	whole, frac, _ := strings.Cut(raw, ".")
	if !isDigits(whole) || !isDigits(frac) || whole+frac == "" {
		return 0, fmt.Errorf("%w: amount %q is not a decimal number", ErrInvalidPayload, raw)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > minorUnitDigits {
		if strings.Trim(frac[minorUnitDigits:], "0") != "" {
			return 0, fmt.Errorf("%w: amount %q has sub-minor precision", ErrInvalidPayload, raw)
		}
		frac = frac[:minorUnitDigits]
	}
	for len(frac) < minorUnitDigits {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidPayload, raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidPayload, raw, err)
	}

	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatAmountMinor печатает минорные единицы как десятичную сумму с двумя знаками.
func FormatAmountMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
