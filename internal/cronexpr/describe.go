package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

// Describe returns a human-readable label for common expression shapes and
// echoes the raw expression for anything it has no canned phrasing for.
// Cosmetic only: scheduling never depends on this.
func Describe(expr string) string {
	if Validate(expr) != nil {
		return expr
	}
	parts := strings.Fields(expr)
	min, hour, day, month, weekday := parts[0], parts[1], parts[2], parts[3], parts[4]

	if month != "*" {
		return expr
	}

	switch {
	case min == "*" && hour == "*" && day == "*" && weekday == "*":
		return "Every minute"

	case strings.HasPrefix(min, "*/") && hour == "*" && day == "*" && weekday == "*":
		n, _ := strconv.Atoi(min[2:])
		if n == 1 {
			return "Every minute"
		}
		return fmt.Sprintf("Every %d minutes", n)

	case isNumber(min) && hour == "*" && day == "*" && weekday == "*":
		m, _ := strconv.Atoi(min)
		return fmt.Sprintf("Every hour at :%02d", m)

	case isNumber(min) && strings.HasPrefix(hour, "*/") && day == "*" && weekday == "*":
		m, _ := strconv.Atoi(min)
		n, _ := strconv.Atoi(hour[2:])
		if n == 1 {
			return fmt.Sprintf("Every hour at :%02d", m)
		}
		return fmt.Sprintf("Every %d hours at :%02d", n, m)

	case isNumber(min) && isNumber(hour) && day == "*" && weekday == "*":
		return fmt.Sprintf("Every day at %s", clockLabel(hour, min))

	case isNumber(min) && isNumber(hour) && day == "*" && isNumber(weekday):
		d, _ := strconv.Atoi(weekday)
		return fmt.Sprintf("Every %s at %s", weekdayNames[d], clockLabel(hour, min))

	case isNumber(min) && isNumber(hour) && isNumber(day) && weekday == "*":
		d, _ := strconv.Atoi(day)
		return fmt.Sprintf("Monthly on day %d at %s", d, clockLabel(hour, min))
	}

	return expr
}

func clockLabel(hour, min string) string {
	h, _ := strconv.Atoi(hour)
	m, _ := strconv.Atoi(min)
	if h == 0 && m == 0 {
		return "midnight"
	}
	if h == 12 && m == 0 {
		return "noon"
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
