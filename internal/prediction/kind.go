package prediction

import "strings"

// Kind selects the bet type a prediction is produced for.
type Kind string

const (
	KindWin      Kind = "win"
	KindPlace    Kind = "place"
	KindQuinella Kind = "quinella"
	KindExacta   Kind = "exacta"
	KindTrifecta Kind = "trifecta"
)

// KnownKinds lists the kinds that have a dedicated prompt.
func KnownKinds() []Kind {
	return []Kind{KindWin, KindPlace, KindQuinella, KindExacta, KindTrifecta}
}

// ParseKind normalizes s. Unrecognized values are kept and get the generic
// prompt.
func ParseKind(s string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(s)))
}

func (k Kind) Known() bool {
	switch k {
	case KindWin, KindPlace, KindQuinella, KindExacta, KindTrifecta:
		return true
	}
	return false
}

// IsCombination reports whether k is a multi-horse bet.
func (k Kind) IsCombination() bool {
	switch k {
	case KindQuinella, KindExacta, KindTrifecta:
		return true
	}
	return false
}
