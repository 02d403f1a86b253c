package domain

const DefaultCardSet = "fibonacci"

// CardSets maps a card-set name to its ordered card labels.
var CardSets = map[string][]string{
	"fibonacci": {"?", "☕", "0", "1", "2", "3", "5", "8", "13", "21", "34"},
	"tshirt":    {"?", "XS", "S", "M", "L", "XL"},
}

// CardsFor returns the labels for name, falling back to the fibonacci set
// when name is unknown. The returned slice is a copy.
func CardsFor(name string) []string {
	cards, ok := CardSets[name]
	if !ok {
		cards = CardSets[DefaultCardSet]
	}
	return append([]string(nil), cards...)
}
