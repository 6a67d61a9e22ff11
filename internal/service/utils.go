package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var numberCleaner = strings.NewReplacer("$", "", ",", "", "%", "", "+", "", " ", "", " ", "")

// CleanDecimal parses a displayed number such as "$1,234.50" or "-0.05".
// Anything unparsable becomes zero so one bad cell never drops a whole row.
func CleanDecimal(s string) decimal.Decimal {
	clean := numberCleaner.Replace(strings.TrimSpace(s))
	if clean == "" || clean == "-" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseClock parses "15:04" or "15:04:05" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid clock time: %q", s)
}

// FormatInterval renders a duration the short way, e.g. "1s", "5m", "1h".
func FormatInterval(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}

	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}

	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}

	return d.String()
}
