package gateway

import (
	"regexp"
	"strconv"
	"strings"
)

// Selection is a parsed voice selection: either a 1-based choice into the
// pending candidate list or a cancellation.
type Selection struct {
	Choice int
	Cancel bool
}

// cancelWords reject the whole pending candidate list.
var cancelWords = map[string]struct{}{
	"cancel":     {},
	"skip":       {},
	"no":         {},
	"none":       {},
	"nope":       {},
	"nevermind":  {},
	"never mind": {},
}

// numberWords maps spoken ordinals onto choices. The candidate list is
// capped at eight, so eight words suffice.
var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8,
}

// selectionPattern matches phrasings like "option 3", "select two",
// "number 1", or a bare digit/word.
var selectionPattern = regexp.MustCompile(`^(?:(?:option|select|choose|number|pick)\s+)?([0-9]+|one|two|three|four|five|six|seven|eight)$`)

// ParseSelection interprets a voice selection over max pending candidates.
// It reports false when the text is neither a cancel word nor a choice
// within range.
func ParseSelection(text string, max int) (Selection, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Selection{}, false
	}

	if _, ok := cancelWords[t]; ok {
		return Selection{Cancel: true}, true
	}

	m := selectionPattern.FindStringSubmatch(t)
	if m == nil {
		return Selection{}, false
	}

	var n int
	if v, ok := numberWords[m[1]]; ok {
		n = v
	} else {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return Selection{}, false
		}
		n = v
	}
	if n < 1 || n > max {
		return Selection{}, false
	}
	return Selection{Choice: n}, true
}
