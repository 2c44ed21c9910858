package bptree

import "github.com/btree-query-bench/gbptree/dbms/pager"

// ReadPointerPair decodes the pair at the cursor offset and leaves the
// cursor just past it. It fails, marked ErrCorruption, when no slot is
// valid or both valid slots carry the same generation.
func ReadPointerPair(c pager.PageCursor, stable, unstable uint32) (int64, error) {
	a := readGSP(c)
	b := readGSP(c)
	aValid := a.state(stable, unstable) == slotValid
	bValid := b.state(stable, unstable) == slotValid

	switch {
	case aValid && bValid:
		if a.Generation > b.Generation {
			return a.Pointer, nil
		}
		if b.Generation > a.Generation {
			return b.Pointer, nil
		}
		return NoNode, errPairSameGeneration
	case aValid:
		return a.Pointer, nil
	case bValid:
		return b.Pointer, nil
	default:
		return NoNode, errPairNoValidSlot
	}
}

// WritePointerPair stamps pointer with the unstable generation into one slot
// of the pair at the cursor offset and leaves the cursor just past the pair.
// It reports false, writing nothing, when no slot may be overwritten.
// stable must be below unstable.
func WritePointerPair(c pager.PageCursor, pointer int64, stable, unstable uint32) bool {
	offset := c.Offset()
	a := readGSP(c)
	b := readGSP(c)
	slot, ok := selectSlot(a, b, stable, unstable)
	if !ok {
		c.SetOffset(offset + GSPPSize)
		return false
	}
	c.SetOffset(offset + slot*GSPSize)
	writeGSP(c, unstable, pointer)
	c.SetOffset(offset + GSPPSize)
	return true
}

// selectSlot picks, in order: the slot already at the unstable generation,
// an invalid slot, an empty slot, the lower generation slot.
func selectSlot(a, b GenSafePointer, stable, unstable uint32) (int, bool) {
	aState := a.state(stable, unstable)
	bState := b.state(stable, unstable)

	aCurrent := aState == slotValid && a.Generation == unstable
	bCurrent := bState == slotValid && b.Generation == unstable
	switch {
	case aCurrent && bCurrent:
		return 0, false
	case aCurrent:
		return 0, true
	case bCurrent:
		return 1, true
	}

	switch {
	case aState == slotInvalid && bState == slotInvalid:
		return 0, false
	case aState == slotInvalid:
		return 0, true
	case bState == slotInvalid:
		return 1, true
	}

	switch {
	case aState == slotEmpty:
		return 0, true
	case bState == slotEmpty:
		return 1, true
	}

	switch {
	case a.Generation < b.Generation:
		return 0, true
	case b.Generation < a.Generation:
		return 1, true
	default:
		return 0, false
	}
}

// writePointerPair is WritePointerPair for callers that report errors.
func writePointerPair(c pager.PageCursor, pointer int64, stable, unstable uint32) error {
	if !WritePointerPair(c, pointer, stable, unstable) {
		return errPairWrite
	}
	return nil
}
