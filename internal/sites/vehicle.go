package sites

import (
	"regexp"
	"strings"
)

// displacementRe matches the engine displacement token that anchors the
// engine portion of a vehicle description, e.g. "2.5L" or "3L".
var displacementRe = regexp.MustCompile(`(?i)^\d+(?:\.\d+)?L$`)

// vehicleGrammar describes how one make's SimplePart vehicle strings
// such as "Subaru Outback 2.5L CVT Plus" break apart. The model is the
// first word after the make. The engine starts at the displacement token
// and extends across known drivetrain tokens, which keeps trim names
// like "Plus" out of the engine. Every other word belongs to the trim.
type vehicleGrammar struct {
	makeName string

	// engineWord reports whether a token extends the engine once the
	// displacement has been seen.
	engineWord func(string) bool

	// trimSkip reports tokens dropped from the trim, such as drivetrain
	// and body style words. May be nil.
	trimSkip func(string) bool

	// trimHint names known trims, consulted when no engine was found
	// and the leftover text needs narrowing. May be nil.
	trimHint *regexp.Regexp
}

func (g vehicleGrammar) parse(desc string) (model, trim, engine string) {
	words := strings.Fields(trimPrefixFold(desc, g.makeName))
	if len(words) == 0 {
		return "", "", ""
	}
	model = words[0]

	var engineWords, trimWords []string
	for i := 1; i < len(words); i++ {
		if len(engineWords) == 0 && displacementRe.MatchString(words[i]) {
			engineWords = append(engineWords, words[i])
			for i+1 < len(words) && g.engineWord != nil && g.engineWord(words[i+1]) {
				i++
				engineWords = append(engineWords, words[i])
			}
			continue
		}
		if g.trimSkip != nil && g.trimSkip(words[i]) {
			continue
		}
		trimWords = append(trimWords, words[i])
	}
	engine = strings.Join(engineWords, " ")
	trim = strings.Join(trimWords, " ")
	if engine == "" && trim != "" && g.trimHint != nil {
		if m := g.trimHint.FindString(trim); m != "" {
			trim = m
		}
	}
	return model, trim, engine
}

// trimPrefixFold removes a case-insensitive leading word.
func trimPrefixFold(s, prefix string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) && s[len(prefix)] == ' ' {
		return strings.TrimSpace(s[len(prefix):])
	}
	return s
}
