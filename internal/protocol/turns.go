package protocol

// AdvanceTurn moves the current index to the next roster slot, wrapping.
func AdvanceTurn(current, count int) int {
	if count <= 0 {
		return 0
	}
	return (current + 1) % count
}

// AdjustTurnIndex recomputes the current index after removing the roster
// entry at removed. newCount is the roster size after removal. The rule holds
// for voluntary leave, kick, and detected disconnect alike: indices before
// the removal shift down by one; otherwise the index wraps into the shrunken
// roster, which also hands the turn to the next player when the holder
// itself was removed.
func AdjustTurnIndex(current, removed, newCount int) int {
	if removed < current {
		return current - 1
	}
	if newCount <= 0 {
		return 0
	}
	return current % newCount
}

// ClampTurnIndex forces an index into the documented invariant
// 0 <= i < max(1, count).
func ClampTurnIndex(index, count int) int {
	if count <= 0 || index < 0 {
		return 0
	}
	return index % count
}
