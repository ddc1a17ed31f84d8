package detect

import (
	"strings"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

type lexicon struct {
	category compliance.Category
	keywords []string
}

// objectLexicons is checked in order; the first lexicon with a keyword
// contained in the lower-cased object name wins.
var objectLexicons = []lexicon{
	{compliance.CategorySafety, []string{"fire", "exit", "sign", "door", "emergency", "extinguisher", "blocked", "obstruction", "stairs"}},
	{compliance.CategoryCleanliness, []string{"trash", "garbage", "spill", "dirt", "mess", "clean", "floor", "surface", "bucket", "mop", "overflow"}},
	{compliance.CategoryFoodSafety, []string{"container", "cutting board", "thermometer", "temperature"}},
	{compliance.CategoryEquipment, []string{"rust", "damage", "broken", "crack", "grease", "leak", "drip", "moisture"}},
	{compliance.CategoryOperational, []string{"queue", "line", "crowd"}},
	{compliance.CategoryFoodQuality, []string{"plate", "plating"}},
	{compliance.CategoryStaffBehavior, []string{"jewelry", "watch", "ring", "bracelet", "phone", "mobile", "cell", "eating", "drinking", "beverage", "cup"}},
}

// ObjectCategories lists the categories objects can be classified into, in
// lexicon order.
func ObjectCategories() []compliance.Category {
	out := make([]compliance.Category, len(objectLexicons))
	for i, l := range objectLexicons {
		out[i] = l.category
	}
	return out
}

// Classify returns the object category for a detection name.
func Classify(name string) (compliance.Category, bool) {
	lower := strings.ToLower(name)
	for _, l := range objectLexicons {
		if ContainsAny(lower, l.keywords...) {
			return l.category, true
		}
	}
	return compliance.CategoryOther, false
}

// GroupObjects buckets objects by category, keeping input order inside each
// bucket. Unclassified objects are dropped.
func GroupObjects(objects []Object) map[compliance.Category][]Object {
	groups := make(map[compliance.Category][]Object)
	for _, o := range objects {
		if c, ok := Classify(o.Name); ok {
			groups[c] = append(groups[c], o)
		}
	}
	return groups
}

// ContainsAny reports whether s contains any of the keywords. s is expected
// to be lower-cased already.
func ContainsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// CountMatching counts objects whose lower-cased name contains any keyword.
func CountMatching(objects []Object, keywords ...string) int {
	n := 0
	for _, o := range objects {
		if ContainsAny(strings.ToLower(o.Name), keywords...) {
			n++
		}
	}
	return n
}
