package substitution

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 單位詞彙（整詞比對）
var unitWords = []string{
	"cup", "cups",
	"tablespoon", "tablespoons", "tbsp", "tbsps", "tbs", "tbl",
	"teaspoon", "teaspoons", "tsp", "tsps",
	"ounce", "ounces", "oz", "fl",
	"pound", "pounds", "lb", "lbs",
	"gram", "grams", "g", "kilogram", "kilograms", "kg", "mg",
	"milliliter", "milliliters", "millilitre", "millilitres", "ml",
	"liter", "liters", "litre", "litres", "l", "dl", "cl",
	"pint", "pints", "pt", "quart", "quarts", "qt", "gallon", "gallons", "gal",
	"clove", "cloves", "can", "cans", "tin", "tins", "jar", "jars", "bottle", "bottles",
	"package", "packages", "pkg", "pkgs", "packet", "packets", "bag", "bags", "box", "boxes",
	"slice", "slices", "sprig", "sprigs", "stalk", "stalks", "stick", "sticks",
	"bunch", "bunches", "head", "heads", "piece", "pieces", "pinch", "pinches",
	"dash", "dashes", "handful", "handfuls", "drop", "drops",
}

// 描述詞彙（整詞比對）
var descriptorWords = []string{
	"fresh", "freshly", "dried", "frozen", "thawed", "canned",
	"chopped", "diced", "minced", "grated", "sliced", "shredded", "crushed", "ground",
	"cubed", "julienned", "halved", "quartered", "peeled", "seeded", "pitted", "cored",
	"trimmed", "rinsed", "drained", "beaten", "whisked", "sifted", "packed", "divided",
	"melted", "softened", "chilled", "cold", "warm", "room", "temperature",
	"large", "medium", "small", "extra", "jumbo", "heaping", "level",
	"finely", "roughly", "coarsely", "thinly", "thickly", "lightly",
	"unsalted", "salted", "boneless", "skinless", "whole", "raw", "cooked",
	"organic", "ripe", "virgin", "optional",
}

// 無意義連接詞
var fillerWords = []string{"of", "a", "an", "to", "taste", "about", "approximately"}

var (
	stripVocabulary = buildVocabulary(unitWords, descriptorWords, fillerWords)
	unitVocabulary  = buildVocabulary(unitWords)

	// 數字與單位黏在一起，例如 500g、2tbsp
	gluedQuantityPattern = regexp.MustCompile(`^\d+([a-z]+)$`)

	foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

func buildVocabulary(lists ...[]string) map[string]struct{} {
	vocab := make(map[string]struct{})
	for _, list := range lists {
		for _, w := range list {
			vocab[w] = struct{}{}
		}
	}
	return vocab
}

// Normalize 將食材原文轉為穩定的查表與快取鍵。
// 轉小寫、去除重音、去除數量、單位、描述詞與標點，最後合併空白。
// 對任何輸入皆成立 Normalize(Normalize(x)) == Normalize(x)。
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if folded, _, err := transform.String(foldAccents, s); err == nil {
		s = folded
	}
	s = strings.NewReplacer("'", "", "’", "", "`", "").Replace(s)

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	kept := tokens[:0]
	for _, tok := range tokens {
		if isQuantity(tok) {
			continue
		}
		if _, drop := stripVocabulary[tok]; drop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// isQuantity 純數字或數字加單位
func isQuantity(tok string) bool {
	allDigits := true
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return true
	}
	if m := gluedQuantityPattern.FindStringSubmatch(tok); m != nil {
		_, ok := unitVocabulary[m[1]]
		return ok
	}
	return false
}

// NormalizeAll 正規化清單並略過正規化後為空的項目
func NormalizeAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if n := Normalize(item); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// containsEither 雙向子字串比對
func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
