package helpers

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var markdownReplacer = func() *strings.Replacer {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	pairs := make([]string, 0, 2*len(charactersToEscape))
	for _, char := range charactersToEscape {
		pairs = append(pairs, char, "\\"+char)
	}
	return strings.NewReplacer(pairs...)
}()

func EscapeMarkdownV2(text string) string {
	return markdownReplacer.Replace(text)
}

// FormatPriceUS renders a price with thousand separators and a precision
// that depends on its magnitude.
func FormatPriceUS(price decimal.Decimal, escapeMarkdown bool) string {
	decimals := 6

	if price.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		decimals = 0
	} else if price.GreaterThan(decimal.RequireFromString("1.2")) {
		decimals = 2
	} else if price.IsPositive() && price.LessThan(decimal.RequireFromString("0.00001")) {
		decimals = 8
	}

	f, _ := price.Round(int32(decimals)).Float64()
	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, f)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

// FormatTimestamp renders a feed timestamp as "02/01/2006 - 15:04:05 (UTC), 3 minutes ago"
func FormatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("02/01/2006 - 15:04:05 (UTC)") + ", " + humanize.RelTime(t, now, "ago", "from now")
}
