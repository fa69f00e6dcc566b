package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes text for comparison: NFKC compatibility forms, combining
// marks removed, lower case. "Réformé" and "REFORME" fold to the same string.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = norm.NFKC.String(s)
	}
	return strings.ToLower(folded)
}

// Tokens splits folded text into content words. Stopwords and tokens shorter
// than three runes are dropped, and a trailing plural "s" is stripped from
// longer words so "retraites" and "retraite" compare equal.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// tokenSet collects the content tokens of parts. Negation markers only
// steer direction and do not count toward relatedness.
func tokenSet(parts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range parts {
		for _, t := range Tokens(p) {
			if isNegator(t) || isOpposer(t) {
				continue
			}
			set[t] = struct{}{}
		}
	}
	return set
}

// Negators reverse an affirm cue that follows them ("n'a pas adopté",
// "has not been passed"). Opposers reverse one they follow ("a voté
// contre", "voted against").
var (
	negators = cueSet("pas", "jamais", "aucun", "aucune", "not", "never", "nor")
	opposers = cueSet("contre", "against")
)

func isNegator(t string) bool {
	_, ok := negators[t]
	return ok
}

func isOpposer(t string) bool {
	_, ok := opposers[t]
	return ok
}

func stem(t string) string {
	if len(t) > 4 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return t[:len(t)-1]
	}
	return t
}

var stopwords = func() map[string]struct{} {
	words := []string{
		// French
		"les", "des", "une", "est", "sont", "pour", "par", "sur", "dans", "avec",
		"sans", "aux", "que", "qui", "quoi", "dont", "son", "ses", "leur", "leurs",
		"notre", "nos", "votre", "vos", "cette", "ces", "cet", "mais", "ou", "donc",
		"car", "plus", "moins", "tres", "tout", "tous", "toute", "toutes",
		"nous", "vous", "ils", "elles", "lui", "elle", "etre", "avoir", "fait",
		"faire", "sera", "seront", "ete", "comme", "entre", "vers", "chez", "ainsi",
		"aussi", "afin", "lors", "apres", "avant", "depuis", "pendant",
		"projet", "loi",
		// English
		"the", "and", "for", "with", "without", "that", "this", "these", "those",
		"from", "into", "onto", "are", "was", "were", "will", "would", "shall",
		"have", "has", "had", "but", "all", "any", "our", "their", "his",
		"her", "its", "who", "which", "what", "when", "than", "then", "there",
		"bill", "act",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()
