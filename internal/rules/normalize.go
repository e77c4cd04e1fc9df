package rules

import (
	"regexp"
	"strconv"
	"strings"

	"taxbench/internal/money"
)

var (
	citationPrefix = regexp.MustCompile(`^I\.R\.C\.\s*§?\s*[\w().\-]+\s*`)
	whitespace     = regexp.MustCompile(`\s+`)

	exceptionPattern  = regexp.MustCompile(`(?i)\b(except|unless|notwithstanding)\b\s*([^.;,]*)`)
	definitionPattern = regexp.MustCompile(`(?i)the term ["“'‘](.+?)["”'’] (?:means|shall include|includes)\s+(.+?)\.?$`)
	definitionCue     = regexp.MustCompile(`(?i)\b(means|shall include)\b`)
	percentPattern    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:%|percent\b)`)
	durationPattern   = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten|twelve)[\s-](year|month)s?\b(\s+period)?`)
	dollarPattern     = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(\.\d{2})?`)
	capPattern        = regexp.MustCompile(`(?i)\b(shall not exceed|not (?:to )?exceed|limited to|lesser of|in no event exceed)\b`)
	comparisonPattern = regexp.MustCompile(`(?i)\b(excess of|excess over|exceeds|exceed|in excess)\b`)
	sectionRefPattern = regexp.MustCompile(`(?i)\bsection\s+(\d+[A-Z]?(?:-\d+)?(?:\([a-zA-Z0-9]+\))*)`)
	crossRefCue       = regexp.MustCompile(`(?i)\b(determined|by reference|see section|same as|increased by|decreased by|as defined in)\b`)
	conditionalToken  = regexp.MustCompile(`(?i)\b(if|unless|except|provided|means|shall include|includes|section|exceeds?|excess)\b`)
	numericToken      = regexp.MustCompile(`\d`)
	triggerPattern    = regexp.MustCompile(`(?i)\b(?:if|when|in the case of|held for|during)\b\s*([^.;]*)`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "twelve": 12,
}

// CleanText collapses whitespace and strips a leading "I.R.C. § N" citation.
func CleanText(text string) string {
	clean := whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	clean = citationPrefix.ReplaceAllString(clean, "")
	return strings.TrimLeft(clean, "—-:;,. ")
}

// Normalize classifies a fragment into exactly one rule type and extracts
// its value. Precedence is exception, definition, percentage, duration,
// dollar threshold, comparison threshold, cross reference.
func Normalize(f Fragment) (Rule, error) {
	if strings.TrimSpace(f.SectionID) == "" {
		return Rule{}, &ExtractionError{Subsection: f.Subsection, Reason: "missing section identifier"}
	}
	text := CleanText(f.Text)
	if !numericToken.MatchString(text) && !conditionalToken.MatchString(text) {
		return Rule{}, extractionErr(f, "no numeric or conditional token", nil)
	}

	r := Rule{
		Section:    strings.TrimSpace(f.SectionID),
		Subsection: strings.TrimSpace(f.Subsection),
		Citation:   strings.TrimSpace(f.Citation),
		Text:       text,
		Targets:    sectionRefs(text),
	}
	if r.Citation == "" {
		r.Citation = "I.R.C. § " + r.Section + r.Subsection
	}

	switch {
	case exceptionPattern.MatchString(text):
		m := exceptionPattern.FindStringSubmatch(text)
		r.Type = Exception
		r.Trigger = trimClause(m[2])
	case definitionCue.MatchString(text):
		r.Type = Definition
		if m := definitionPattern.FindStringSubmatch(text); m != nil {
			r.Term = strings.TrimSpace(m[1])
			r.Meaning = strings.TrimSpace(m[2])
		} else {
			r.Meaning = text
		}
		r.Trigger = trigger(text)
	case percentPattern.MatchString(text):
		m := percentPattern.FindStringSubmatch(text)
		bp, err := money.ParsePercent(m[1])
		if err != nil {
			return Rule{}, extractionErr(f, "unreadable percentage", err)
		}
		if bp < 0 || bp > money.Whole {
			return Rule{}, extractionErr(f, "percentage "+m[1]+" outside [0,100]", nil)
		}
		r.Type = PercentageLimit
		r.Percent = bp
		r.Months, _ = durations(text)
		r.Trigger = trigger(text)
	case durationPattern.MatchString(text):
		months, window := durations(text)
		if months <= 0 {
			months, window = window, 0
		}
		if months <= 0 {
			return Rule{}, extractionErr(f, "duration is not positive", nil)
		}
		r.Type = TimeRule
		r.Months = months
		r.WindowMonths = window
		r.Trigger = trigger(text)
	case dollarPattern.MatchString(text):
		m := dollarPattern.FindStringSubmatch(text)
		amount, err := money.ParseDollars(m[1] + m[2])
		if err != nil {
			return Rule{}, extractionErr(f, "unreadable amount", err)
		}
		if amount <= 0 {
			return Rule{}, extractionErr(f, "threshold amount is not positive", nil)
		}
		r.Type = Threshold
		r.Amount = amount
		r.Op = thresholdOp(text)
		r.Trigger = trigger(text)
	case comparisonPattern.MatchString(text):
		r.Type = Threshold
		r.Op = thresholdOp(text)
		r.Trigger = trigger(text)
	case len(r.Targets) > 0 && crossRefCue.MatchString(text):
		r.Type = CrossReference
		r.Trigger = trigger(text)
	default:
		return Rule{}, extractionErr(f, "no classifiable pattern", nil)
	}

	if err := r.Validate(); err != nil {
		return Rule{}, extractionErr(f, "invalid value", err)
	}
	return r, nil
}

func extractionErr(f Fragment, reason string, err error) error {
	return &ExtractionError{SectionID: f.SectionID, Subsection: f.Subsection, Reason: reason, Err: err}
}

func thresholdOp(text string) Op {
	switch {
	case capPattern.MatchString(text):
		return OpCap
	case comparisonPattern.MatchString(text):
		return OpExcess
	default:
		return OpMeets
	}
}

// durations returns the first duration that is not a look-back period, and
// the first look-back period ("5-year period"), both in months.
func durations(text string) (months, window int) {
	for _, m := range durationPattern.FindAllStringSubmatch(text, -1) {
		n, ok := numberWords[strings.ToLower(m[1])]
		if !ok {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			n = v
		}
		if strings.EqualFold(m[2], "year") {
			n *= 12
		}
		if strings.TrimSpace(m[3]) != "" {
			if window == 0 {
				window = n
			}
			continue
		}
		if months == 0 {
			months = n
		}
	}
	return months, window
}

func sectionRefs(text string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range sectionRefPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

func trigger(text string) string {
	if m := triggerPattern.FindStringSubmatch(text); m != nil {
		if t := trimClause(m[1]); t != "" {
			return t
		}
	}
	return text
}

func trimClause(s string) string {
	return strings.Trim(strings.TrimSpace(s), ",—- ")
}
