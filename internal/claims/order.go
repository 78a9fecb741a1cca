package claims

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

var dateRx = regexp.MustCompile(`\d{1,2}-\d{1,2}-\d{4}`)

// KeyDate extracts the first DD-MM-YYYY date embedded in a record key.
// Day and month may be single digits. Dates that do not exist on the
// calendar, such as 31-02-2024, do not parse.
func KeyDate(key string) (time.Time, bool) {
	s := dateRx.FindString(key)
	if s == "" {
		return time.Time{}, false
	}
	var parts [3]int
	for i, p := range strings.SplitN(s, "-", 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		parts[i] = n
	}
	day, month, year := parts[0], parts[1], parts[2]
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return time.Time{}, false
	}
	return t, true
}

// CompareKeys orders record keys newest first. A key with a date sorts
// before a key without one; two undated keys compare equal so a stable
// sort keeps their input order.
func CompareKeys(a, b string) int {
	da, aok := KeyDate(a)
	db, bok := KeyDate(b)
	switch {
	case aok && bok:
		return db.Compare(da)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}

// SortKeys sorts keys in place with CompareKeys.
func SortKeys(keys []string) {
	slices.SortStableFunc(keys, CompareKeys)
}
