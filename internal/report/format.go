package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	return groupThousands(fmt.Sprintf("%d", n))
}

// FormatMoney formats an amount rounded half away from zero to cents, with
// comma separators: 1234567.891 -> "1,234,567.89".
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	s := decimal.NewFromFloat(v).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if sign == "-" && strings.Trim(whole+frac, "0") == "" {
		sign = ""
	}
	return sign + groupThousands(whole) + "." + frac
}

// FormatPct formats a value already expressed in percent as "X.XX%".
func FormatPct(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", p)
}

// FormatSignedPct formats a percent with an explicit sign: "+X.XX%".
func FormatSignedPct(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%", p)
}

// FormatRatio formats a dimensionless ratio to two decimals.
func FormatRatio(r float64) string {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", r)
}

// FormatQty formats a position quantity, dropping trailing zeros.
func FormatQty(q float64) string {
	return decimal.NewFromFloat(q).Round(4).String()
}

// FormatTime formats a Unix-seconds timestamp as a UTC date, adding the
// time of day when it is not midnight.
func FormatTime(ts int64) string {
	t := time.Unix(ts, 0).UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format("2006-01-02 15:04")
}

// FormatDuration formats a holding period in seconds as days, or hours when
// under a day.
func FormatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d >= 24*time.Hour {
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
