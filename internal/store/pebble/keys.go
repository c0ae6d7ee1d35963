// Key schema, one flat namespace per database:
//
//	M:{stream}\x00{cascade_id}                      → {record}      message record
//	L:{stream}\x00{created_at_20}\x00{cascade_id}    → {cascade_id}  insertion-order index
//	G:{cascade_id}                                   → {stream}      stream-agnostic lookup index
package pebble

import "fmt"

const (
	prefixMessage   = "M:"
	prefixListIndex = "L:"
	prefixGlobal    = "G:"
	keySeparator    = "\x00"
	intWidth        = 20
)

func messageKey(stream, cascadeID string) []byte {
	return []byte(prefixMessage + stream + keySeparator + cascadeID)
}

func listIndexPrefix(stream string) []byte {
	return []byte(prefixListIndex + stream + keySeparator)
}

func listIndexKey(stream string, createdAtNano int64, cascadeID string) []byte {
	return []byte(fmt.Sprintf("%s%0*d%s%s", listIndexPrefix(stream), intWidth, createdAtNano, keySeparator, cascadeID))
}

func globalKey(cascadeID string) []byte {
	return []byte(prefixGlobal + cascadeID)
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, for use as an IterOptions.UpperBound.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff, no upper bound needed
}
