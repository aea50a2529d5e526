// Package extract pulls offending creative ids out of the platform's
// free-text validation errors. The exact wording of those messages is not
// contractually stable, so matching is deliberately permissive and the
// result is best-effort: an empty set means "nothing recognizable", never an
// error. Callers must treat an error with no extracted ids as non-retryable.
package extract

import "regexp"

// Sentences that identify a creative-validation complaint. The platform has
// reworded this banner before, so several phrasings are accepted.
var errorSentences = []*regexp.Regexp{
	regexp.MustCompile(`(?i)following\s+creatives\s+are\s+not\s+valid`),
	regexp.MustCompile(`(?i)creatives?\s+(?:are\s+|is\s+)?not\s+valid`),
	regexp.MustCompile(`(?i)invalid\s+creatives?`),
	regexp.MustCompile(`(?i)creatives?\s+.*\s+rejected`),
}

var idToken = regexp.MustCompile(`\d+`)

// InvalidCreativeIDs returns the set of creative ids named by a validation
// error, in first-mention order. Ids are numeric tokens anywhere in the text
// once a recognized error sentence is present; when no sentence matches the
// result is empty.
func InvalidCreativeIDs(errorText string) []string {
	if errorText == "" || !recognized(errorText) {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, tok := range idToken.FindAllString(errorText, -1) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		ids = append(ids, tok)
	}
	return ids
}

func recognized(text string) bool {
	for _, re := range errorSentences {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
