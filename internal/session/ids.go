package session

import (
	"fmt"
	"time"
)

// NewAssetID builds an asset id from a creation timestamp. Batch uploads pass
// an index > 0 so ids stay unique within one millisecond.
func NewAssetID(at time.Time, index int) string {
	if index > 0 {
		return fmt.Sprintf("asset-%d-%d", at.UnixMilli(), index)
	}
	return fmt.Sprintf("asset-%d", at.UnixMilli())
}
