package mark

import (
	"strings"

	"github.com/quka-ai/ragstream/pkg/types"
)

const SHORT_ID_LENGTH = 7

// ShortIDCollision records a passage that was overwritten in the table by a
// later passage sharing the same short id.
type ShortIDCollision struct {
	ShortID  string
	Replaced types.PassageRecord
	By       types.PassageRecord
}

// ShortID returns the lowercase 7 character prefix of id. ok is false when the
// prefix is not hexadecimal.
func ShortID(id string) (string, bool) {
	if len(id) < SHORT_ID_LENGTH {
		return "", false
	}
	short := strings.ToLower(id[:SHORT_ID_LENGTH])
	for i := 0; i < len(short); i++ {
		c := short[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return short, true
}

// BuildShortIDTable indexes passages by short id in input order, the last
// passage wins on collision. Collisions between distinct passage ids are
// returned so callers can report them.
func BuildShortIDTable(passages []types.PassageRecord) (types.ShortIDTable, []ShortIDCollision) {
	var (
		table      = make(types.ShortIDTable, len(passages))
		collisions []ShortIDCollision
	)
	for _, p := range passages {
		if p.ID == "" {
			continue
		}
		short, ok := ShortID(p.ID)
		if !ok {
			continue
		}
		if exist, ok := table[short]; ok && exist.ID != p.ID {
			collisions = append(collisions, ShortIDCollision{
				ShortID:  short,
				Replaced: exist,
				By:       p,
			})
		}
		table[short] = p
	}
	return table, collisions
}
