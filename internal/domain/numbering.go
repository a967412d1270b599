package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	ReceiptPrefix    = "REC"
	ReturnPrefix     = "RET"
	AdjustmentPrefix = "ADJ"
	SKUCodePrefix    = "SKU"
)

// DocumentNumber formats PREFIX-YYYYMMDD-NNNN. day must already be in the
// store's timezone.
func DocumentNumber(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), seq)
}

// DayKey is the per-day sequence bucket for a timestamp in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("20060102")
}

// GenerateSKUCode builds SKU + style[:3] + color[:2] + size[:2] + sequence.
func GenerateSKUCode(styleName, color, size string, seq int) string {
	return fmt.Sprintf("%s%s%s%s%04d",
		SKUCodePrefix,
		codePart(styleName, 3, "STY"),
		codePart(color, 2, "COL"),
		codePart(size, 2, "SZ"),
		seq,
	)
}

func codePart(value string, n int, fallback string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	runes := []rune(b.String())
	if len(runes) == 0 {
		return fallback
	}
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}
