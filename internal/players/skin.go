package players

import "strings"

// SkinParts is the displayed skin parts bit set from the client settings.
type SkinParts uint8

const (
	SkinCape SkinParts = 1 << iota
	SkinJacket
	SkinLeftSleeve
	SkinRightSleeve
	SkinLeftPants
	SkinRightPants
	SkinHat

	SkinAll = SkinCape | SkinJacket | SkinLeftSleeve | SkinRightSleeve |
		SkinLeftPants | SkinRightPants | SkinHat
)

var skinPartNames = []struct {
	part SkinParts
	name string
}{
	{SkinCape, "cape"},
	{SkinJacket, "jacket"},
	{SkinLeftSleeve, "left_sleeve"},
	{SkinRightSleeve, "right_sleeve"},
	{SkinLeftPants, "left_pants"},
	{SkinRightPants, "right_pants"},
	{SkinHat, "hat"},
}

// Has reports whether every bit of part is set.
func (s SkinParts) Has(part SkinParts) bool {
	return s&part == part
}

// With returns s with part set or cleared.
func (s SkinParts) With(part SkinParts, on bool) SkinParts {
	if on {
		return s | part
	}
	return s &^ part
}

// Names lists the set parts in bit order.
func (s SkinParts) Names() []string {
	var names []string
	for _, p := range skinPartNames {
		if s.Has(p.part) {
			names = append(names, p.name)
		}
	}
	return names
}

func (s SkinParts) String() string {
	if s&SkinAll == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
