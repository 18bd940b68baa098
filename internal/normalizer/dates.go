package normalizer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	monthNames = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	}

	rangeSeparator = regexp.MustCompile(`(?i)\s*(?:–|—|\bto\b|\buntil\b|\s-\s|-)\s*`)
	monthYear      = regexp.MustCompile(`(?i)^([a-z]{3})[a-z]*\.?\s+(\d{4})$`)
	numericMonth   = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	yearOnly       = regexp.MustCompile(`^(\d{4})$`)
)

var ongoingWords = map[string]bool{"present": true, "current": true, "now": true, "today": true, "ongoing": true}

// ParseDateRange 解析日期区间，end 为 nil 表示至今。
// 单独的日期视为起止相同。起始晚于结束或无法解析时 ok=false。
func ParseDateRange(value string) (start time.Time, end *time.Time, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil, false
	}

	parts := rangeSeparator.Split(value, 2)
	start, ok = parseDate(parts[0])
	if !ok {
		return time.Time{}, nil, false
	}
	if len(parts) == 1 {
		s := start
		return start, &s, true
	}

	endText := strings.ToLower(strings.TrimSpace(parts[1]))
	if ongoingWords[endText] {
		return start, nil, true
	}
	e, ok := parseDate(endText)
	if !ok || start.After(e) {
		return time.Time{}, nil, false
	}
	return start, &e, true
}

// parseDate 支持 "Jan 2018"、"January 2018"、"03/2019"、"2018"，精度到月
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if m := monthYear.FindStringSubmatch(s); m != nil {
		month, ok := monthNames[strings.ToLower(m[1])]
		if !ok {
			return time.Time{}, false
		}
		return makeDate(m[2], month)
	}
	if m := numericMonth.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 12 {
			return time.Time{}, false
		}
		return makeDate(m[2], time.Month(n))
	}
	if m := yearOnly.FindStringSubmatch(s); m != nil {
		return makeDate(m[1], time.January)
	}
	return time.Time{}, false
}

func makeDate(yearText string, month time.Month) (time.Time, bool) {
	year, err := strconv.Atoi(yearText)
	if err != nil || year < 1900 || year > 2100 {
		return time.Time{}, false
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
}
