package expr

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// functions is the fixed library available to expressions. Every function
// takes the already-evaluated argument strings and returns a string; none
// of them can fail.
var functions = map[string]func(args []string) string{
	// Logic.
	"if":  fnIf,
	"and": fnAnd,
	"or":  fnOr,
	"not": fnNot,

	// Comparison.
	"eq":  fnEq,
	"ne":  fnNe,
	"gt":  numericCompare(func(a, b float64) bool { return a > b }),
	"lt":  numericCompare(func(a, b float64) bool { return a < b }),
	"gte": numericCompare(func(a, b float64) bool { return a >= b }),
	"lte": numericCompare(func(a, b float64) bool { return a <= b }),

	// Strings.
	"contains":   fnContains,
	"startsWith": fnStartsWith,
	"endsWith":   fnEndsWith,
	"length":     fnLength,
	"trim":       fnTrim,
	"upper":      fnUpper,
	"lower":      fnLower,
	"concat":     fnConcat,
	"substring":  fnSubstring,
	"replace":    fnReplace,
	"split":      fnSplit,
	"join":       fnJoin,

	// Dates.
	"now":    fnNow,
	"format": fnFormat,

	// Conversion.
	"toNumber":  fnToNumber,
	"toString":  fnToString,
	"toBoolean": fnToBoolean,
}

// Truthy reports whether a string counts as true in conditions: "true",
// "1" or "yes", case-insensitively, after trimming.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func fnIf(args []string) string {
	if Truthy(arg(args, 0)) {
		return arg(args, 1)
	}
	return arg(args, 2)
}

func fnAnd(args []string) string {
	for _, a := range args {
		if !Truthy(a) {
			return "false"
		}
	}
	return "true"
}

func fnOr(args []string) string {
	for _, a := range args {
		if Truthy(a) {
			return "true"
		}
	}
	return "false"
}

func fnNot(args []string) string {
	return strconv.FormatBool(!Truthy(arg(args, 0)))
}

func fnEq(args []string) string {
	return strconv.FormatBool(arg(args, 0) == arg(args, 1))
}

func fnNe(args []string) string {
	return strconv.FormatBool(arg(args, 0) != arg(args, 1))
}

// numericCompare parses both operands as floats; either failing to parse
// makes the comparison false.
func numericCompare(cmp func(a, b float64) bool) func(args []string) string {
	return func(args []string) string {
		a, errA := strconv.ParseFloat(strings.TrimSpace(arg(args, 0)), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(arg(args, 1)), 64)
		if errA != nil || errB != nil {
			return "false"
		}
		return strconv.FormatBool(cmp(a, b))
	}
}

func fnContains(args []string) string {
	return strconv.FormatBool(strings.Contains(arg(args, 0), arg(args, 1)))
}

func fnStartsWith(args []string) string {
	return strconv.FormatBool(strings.HasPrefix(arg(args, 0), arg(args, 1)))
}

func fnEndsWith(args []string) string {
	return strconv.FormatBool(strings.HasSuffix(arg(args, 0), arg(args, 1)))
}

func fnLength(args []string) string {
	return strconv.Itoa(utf8.RuneCountInString(arg(args, 0)))
}

func fnTrim(args []string) string {
	return strings.TrimSpace(arg(args, 0))
}

func fnUpper(args []string) string {
	return strings.ToUpper(arg(args, 0))
}

func fnLower(args []string) string {
	return strings.ToLower(arg(args, 0))
}

func fnConcat(args []string) string {
	return strings.Join(args, "")
}

// fnSubstring slices by rune index. Out-of-range indices clamp instead of
// failing, and a start past the end yields the empty string.
func fnSubstring(args []string) string {
	runes := []rune(arg(args, 0))
	start, err := strconv.Atoi(strings.TrimSpace(arg(args, 1)))
	if err != nil {
		return arg(args, 0)
	}
	end := len(runes)
	if len(args) > 2 {
		if e, err := strconv.Atoi(strings.TrimSpace(arg(args, 2))); err == nil {
			end = e
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	if end > len(runes) {
		end = len(runes)
	}
	if end < start {
		end = start
	}
	return string(runes[start:end])
}

func fnReplace(args []string) string {
	return strings.ReplaceAll(arg(args, 0), arg(args, 1), arg(args, 2))
}

// fnSplit renders the parts as a bracketed list, "[a, b, c]", the format
// fnJoin accepts back.
func fnSplit(args []string) string {
	parts := strings.Split(arg(args, 0), arg(args, 1))
	return "[" + strings.Join(parts, ", ") + "]"
}

func fnJoin(args []string) string {
	list := arg(args, 0)
	if strings.HasPrefix(list, "[") && strings.HasSuffix(list, "]") {
		list = list[1 : len(list)-1]
	}
	parts := strings.Split(list, ", ")
	return strings.Join(parts, arg(args, 1))
}

func fnNow(args []string) string {
	return time.Now().UTC().Format(time.RFC3339)
}

// fnFormat reformats an RFC 3339 instant using a date pattern written with
// Java-style tokens (yyyy, MM, dd, HH, mm, ss, ...). An unparseable instant
// is returned verbatim.
func fnFormat(args []string) string {
	in := strings.TrimSpace(arg(args, 0))
	t, err := time.Parse(time.RFC3339Nano, in)
	if err != nil {
		t, err = time.Parse(time.RFC3339, in)
		if err != nil {
			return arg(args, 0)
		}
	}
	return t.Format(translatePattern(arg(args, 1)))
}

// patternTokens maps Java date tokens to Go layout fragments, longest first.
var patternTokens = []struct {
	java, layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"dd", "02"},
	{"EEEE", "Monday"},
	{"EEE", "Mon"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"SSS", "000"},
	{"a", "PM"},
	{"Z", "-0700"},
	{"XXX", "Z07:00"},
}

func translatePattern(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, tok := range patternTokens {
			if strings.HasPrefix(pattern[i:], tok.java) {
				b.WriteString(tok.layout)
				i += len(tok.java)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

// fnToNumber renders the shortest decimal form of the parsed number, so
// "3.0" becomes "3". Unparseable input passes through unchanged.
func fnToNumber(args []string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(arg(args, 0)), 64)
	if err != nil {
		return arg(args, 0)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fnToString(args []string) string {
	return arg(args, 0)
}

func fnToBoolean(args []string) string {
	return strconv.FormatBool(Truthy(arg(args, 0)))
}
