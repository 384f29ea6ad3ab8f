package trigger

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// compactDuration matches "4d", "2wk", "90min" style tokens.
var compactDuration = regexp.MustCompile(`^(\d+)([a-z]+)$`)

func unitDuration(u string) (time.Duration, bool) {
	switch strings.TrimSuffix(strings.ToLower(u), "s") {
	case "sec", "second":
		return time.Second, true
	case "m", "min", "minute":
		return time.Minute, true
	case "h", "hr", "hour":
		return time.Hour, true
	case "d", "day":
		return 24 * time.Hour, true
	case "w", "wk", "week":
		return 7 * 24 * time.Hour, true
	default:
		// "s" alone survives the plural trim above as "".
		if u == "s" {
			return time.Second, true
		}
		return 0, false
	}
}

// parseDurationPhrase consumes a leading duration phrase from tokens and
// returns the total offset plus the number of tokens consumed.
//
// Accepted forms, repeatable: "8 hours", "2 days 4 hours", "4d", "2wk".
// With allowBare, a bare unit counts as one of it ("day" == "1 day"),
// which is what "every day" style recurrences need.
func parseDurationPhrase(tokens []string, allowBare bool) (time.Duration, int, bool) {
	var total time.Duration
	i := 0
	for i < len(tokens) {
		tok := strings.ToLower(tokens[i])

		if m := compactDuration.FindStringSubmatch(tok); m != nil {
			unit, ok := unitDuration(m[2])
			if !ok {
				break
			}
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				break
			}
			total += time.Duration(n) * unit
			i++
			continue
		}

		if n, err := strconv.Atoi(tok); err == nil && n > 0 && i+1 < len(tokens) {
			if unit, ok := unitDuration(strings.ToLower(tokens[i+1])); ok {
				total += time.Duration(n) * unit
				i += 2
				continue
			}
			break
		}

		if allowBare && i == 0 {
			if unit, ok := unitDuration(tok); ok {
				total += unit
				i++
				continue
			}
		}
		break
	}
	if i == 0 || total <= 0 {
		return 0, 0, false
	}
	return total, i, true
}
