package trigger

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/br"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/nl"
	"github.com/olebedev/when/rules/ru"
	"github.com/olebedev/when/rules/zh"
)

// DefaultLocale is used when a user has no locale preference.
const DefaultLocale = "en"

// ParseError reports input the parser could not turn into a trigger.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Input, e.Reason)
}

// Result is a parsed trigger plus whatever text was left over, which
// becomes the reminder payload.
type Result struct {
	Trigger Trigger
	Payload string
}

func newWhen(rs []rules.Rule) *when.Parser {
	w := when.New(nil)
	w.Add(rs...)
	w.Add(common.All...)
	return w
}

var localeParsers = map[string]*when.Parser{
	"en": newWhen(en.All),
	"ru": newWhen(ru.All),
	"br": newWhen(br.All),
	"zh": newWhen(zh.All),
	"nl": newWhen(nl.All),
}

// SupportedLocale reports whether a natural-language rule set exists for
// the given locale code.
func SupportedLocale(code string) bool {
	_, ok := localeParsers[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Locales lists the supported locale codes, sorted.
func Locales() []string {
	out := make([]string, 0, len(localeParsers))
	for code := range localeParsers {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Parse extracts a trigger from free-form reminder text. Strategies are
// tried in order of strictness: crontab, recurrence ("every ..."), an
// explicit "<when>; <payload>" form, then natural language anchored at
// now in the user's timezone. The first strategy whose shape matches
// owns the input: a recognized shape with a bad value is a hard error,
// never a fallthrough to a looser strategy.
func Parse(text, locale string, loc *time.Location, now time.Time) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, &ParseError{Input: text, Reason: "empty input"}
	}
	if loc == nil {
		loc = time.UTC
	}
	w, ok := localeParsers[strings.ToLower(locale)]
	if !ok {
		w = localeParsers[DefaultLocale]
	}

	if trig, payload, matched, err := parseCrontab(text); matched {
		return result(trig, payload, err)
	}
	if trig, payload, matched, err := parseEvery(text, loc); matched {
		return result(trig, payload, err)
	}
	if trig, payload, matched, err := parseExplicit(text, w, loc, now); matched {
		return result(trig, payload, err)
	}
	if trig, payload, matched, err := parseNatural(text, w, loc, now); matched {
		return result(trig, payload, err)
	}
	return Result{}, &ParseError{Input: text, Reason: "no date, time or schedule found"}
}

func result(trig Trigger, payload string, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Trigger: trig, Payload: payload}, nil
}

// cutKeyword strips a leading keyword (case-insensitive) followed by
// whitespace and returns the remainder.
func cutKeyword(text, kw string) (string, bool) {
	if len(text) <= len(kw) || !strings.EqualFold(text[:len(kw)], kw) {
		return "", false
	}
	rest := text[len(kw):]
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// parseCrontab handles "cron <5 fields>[; payload]" and
// "cron <5 fields> payload".
func parseCrontab(text string) (Trigger, string, bool, error) {
	rest, ok := cutKeyword(text, "cron")
	if !ok {
		return Trigger{}, "", false, nil
	}
	var spec, payload string
	if i := strings.Index(rest, ";"); i >= 0 {
		spec, payload = strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:])
	} else {
		fields := strings.Fields(rest)
		if len(fields) < 5 {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: "crontab needs 5 fields: minute hour day-of-month month day-of-week"}
		}
		spec = strings.Join(fields[:5], " ")
		payload = strings.Join(fields[5:], " ")
	}
	cs, err := ParseCronSpec(spec)
	if err != nil {
		return Trigger{}, "", true, &ParseError{Input: text, Reason: err.Error()}
	}
	return Trigger{Kind: KindCron, Spec: cs.Raw}, payload, true, nil
}

var clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)?$`)

func parseClock(tok string) (hh, mm int, ok bool) {
	m := clockRe.FindStringSubmatch(strings.ToLower(tok))
	if m == nil {
		return 0, 0, false
	}
	hh, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		mm, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am":
		if hh < 1 || hh > 12 {
			return 0, 0, false
		}
		if hh == 12 {
			hh = 0
		}
	case "pm":
		if hh < 1 || hh > 12 {
			return 0, 0, false
		}
		if hh != 12 {
			hh += 12
		}
	default:
		if hh > 23 {
			return 0, 0, false
		}
	}
	if mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}

// dowField maps a recurrence day word to a crontab day-of-week field.
func dowField(tok string) (string, bool) {
	switch strings.ToLower(tok) {
	case "day", "daily":
		return "*", true
	case "weekday", "weekdays":
		return "1-5", true
	case "sunday", "sun":
		return "0", true
	case "monday", "mon":
		return "1", true
	case "tuesday", "tue", "tues":
		return "2", true
	case "wednesday", "wed":
		return "3", true
	case "thursday", "thu", "thurs":
		return "4", true
	case "friday", "fri":
		return "5", true
	case "saturday", "sat":
		return "6", true
	default:
		return "", false
	}
}

// parseEvery handles recurrences. "every <duration>" repeats on a fixed
// interval; "every <day> at <clock>" compiles to a crontab. A weekday
// without a time is refused outright rather than guessed.
func parseEvery(text string, loc *time.Location) (Trigger, string, bool, error) {
	rest, ok := cutKeyword(text, "every")
	if !ok {
		return Trigger{}, "", false, nil
	}
	phrase, payload := rest, ""
	if i := strings.Index(rest, ";"); i >= 0 {
		phrase, payload = strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:])
	}
	tokens := strings.Fields(phrase)
	if len(tokens) == 0 {
		return Trigger{}, "", true, &ParseError{Input: text, Reason: `"every" needs a period, e.g. "every 8 hours" or "every monday at 9:00"`}
	}

	if dow, isDay := dowField(tokens[0]); isDay && len(tokens) >= 3 && strings.EqualFold(tokens[1], "at") {
		hh, mm, ok := parseClock(tokens[2])
		if !ok {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf("%q is not a time of day", tokens[2])}
		}
		spec := fmt.Sprintf("%d %d * * %s", mm, hh, dow)
		cs, err := ParseCronSpec(spec)
		if err != nil {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: err.Error()}
		}
		return Trigger{Kind: KindCron, Spec: cs.Raw}, joinPayload(tokens[3:], payload), true, nil
	}

	if d, n, ok := parseDurationPhrase(tokens, true); ok {
		return Trigger{Kind: KindEvery, Every: d}, joinPayload(tokens[n:], payload), true, nil
	}

	if _, isDay := dowField(tokens[0]); isDay {
		return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf(`recurring %q needs a time of day, e.g. "every %s at 9:00"`, tokens[0], strings.ToLower(tokens[0]))}
	}
	return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf("%q is not a recognized period", phrase)}
}

func joinPayload(leftover []string, payload string) string {
	rest := strings.Join(leftover, " ")
	switch {
	case rest == "":
		return payload
	case payload == "":
		return rest
	default:
		return rest + " " + payload
	}
}

// Layouts with an explicit date component.
var explicitDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
	"Jan 2 2006 15:04",
	"Jan 2 2006",
}

// Clock-only layouts anchor to the current (or next) day.
var explicitClockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04pm",
	"3pm",
}

func parseExplicitInstant(s string, loc *time.Location, now time.Time) (time.Time, bool) {
	for _, layout := range explicitDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	lower := strings.ToLower(s)
	for _, layout := range explicitClockLayouts {
		t, err := time.ParseInLocation(layout, lower, loc)
		if err != nil {
			continue
		}
		n := now.In(loc)
		t = time.Date(n.Year(), n.Month(), n.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		if !t.After(now) {
			t = t.Add(24 * time.Hour)
		}
		return t, true
	}
	return time.Time{}, false
}

// parseExplicit handles "<when>; <payload>". The separator makes the
// intent unambiguous, so a left side that fails to parse is a hard error.
func parseExplicit(text string, w *when.Parser, loc *time.Location, now time.Time) (Trigger, string, bool, error) {
	i := strings.Index(text, ";")
	if i < 0 {
		return Trigger{}, "", false, nil
	}
	left, payload := strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:])
	if left == "" {
		return Trigger{}, "", true, &ParseError{Input: text, Reason: `nothing before ";"`}
	}

	if t, ok := parseExplicitInstant(left, loc, now); ok {
		if !t.After(now) {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf("%q is in the past", left)}
		}
		return At(t), payload, true, nil
	}

	tokens := strings.Fields(left)
	if d, n, ok := parseDurationPhrase(tokens, false); ok && n == len(tokens) {
		return At(now.Add(d)), payload, true, nil
	}

	if r, err := w.Parse(left, now.In(loc)); err == nil && r != nil &&
		r.Index == 0 && strings.TrimSpace(left[len(r.Text):]) == "" {
		if !r.Time.After(now) {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf("%q is in the past", left)}
		}
		return At(r.Time), payload, true, nil
	}

	return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf(`%q (before the ";") is not a date, time or duration`, left)}
}

// maxNaturalTokens bounds how far into the text a date phrase is sought;
// anything longer is payload, not date.
const maxNaturalTokens = 8

// parseNatural finds a leading duration or natural-language date phrase
// and treats the rest as payload. Longer prefixes are tried first so
// "tomorrow at 9am" beats "tomorrow".
func parseNatural(text string, w *when.Parser, loc *time.Location, now time.Time) (Trigger, string, bool, error) {
	tokens := strings.Fields(text)

	if d, n, ok := parseDurationPhrase(tokens, false); ok {
		return At(now.Add(d)), strings.Join(tokens[n:], " "), true, nil
	}

	max := len(tokens)
	if max > maxNaturalTokens {
		max = maxNaturalTokens
	}
	for k := max; k >= 1; k-- {
		prefix := strings.Join(tokens[:k], " ")
		r, err := w.Parse(prefix, now.In(loc))
		if err != nil || r == nil {
			continue
		}
		if r.Index != 0 || strings.TrimSpace(prefix[len(r.Text):]) != "" {
			continue
		}
		if !r.Time.After(now) {
			return Trigger{}, "", true, &ParseError{Input: text, Reason: fmt.Sprintf("%q is in the past", prefix)}
		}
		return At(r.Time), strings.Join(tokens[k:], " "), true, nil
	}
	return Trigger{}, "", false, nil
}
