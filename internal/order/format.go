package order

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata"
)

const shopTimeZone = "Asia/Taipei"

var shopLocation = mustLoadLocation(shopTimeZone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/1/2",
	"2006/01/02",
}

// parseDate reads the date formats clients send. dateOnly reports whether
// the input carried no time of day.
func parseDate(raw string) (t time.Time, dateOnly bool, err error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, raw, shopLocation)
		if err == nil {
			return parsed, !strings.Contains(layout, "15"), nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// formatOrderDate renders t like "2024/03/05 下午02:07".
func formatOrderDate(t time.Time) string {
	t = t.In(shopLocation)
	period := "上午"
	if t.Hour() >= 12 {
		period = "下午"
	}
	return t.Format("2006/01/02 ") + period + t.Format("03:04")
}

// formatShipDate renders a ship date like "2024/3/5".
func formatShipDate(raw string) (*string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, _, err := parseDate(raw)
	if err != nil {
		return nil, err
	}
	out := t.In(shopLocation).Format("2006/1/2")
	return &out, nil
}
