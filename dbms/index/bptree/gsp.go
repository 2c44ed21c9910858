package bptree

import "github.com/btree-query-bench/gbptree/dbms/pager"

// Generation-stamped pointer slot, 12 bytes:
//
//	[0-3]   uint32  generation
//	[4-5]   uint16  pointer bits 32..47
//	[6-9]   uint32  pointer bits 0..31
//	[10-11] uint16  checksum
//
// A slot of all zero bytes is empty.
const (
	GSPSize  = 4 + 6 + 2
	GSPPSize = 2 * GSPSize

	// NoNode is the pointer value of an absent sibling.
	NoNode int64 = -1

	pointerMask = 1<<48 - 1
	// MaxPointer is the largest page id a slot can hold; all 48 bits set
	// encodes NoNode.
	MaxPointer = pointerMask - 1
)

// GenSafePointer is one decoded slot.
type GenSafePointer struct {
	Generation uint32
	Pointer    int64
	Checksum   uint16
	raw        uint64
}

type slotState uint8

const (
	slotEmpty slotState = iota
	slotValid
	slotInvalid
)

// Checksum folds the generation and the 48-bit pointer into 16 bits.
func Checksum(generation uint32, pointer int64) uint16 {
	return checksumRaw(generation, encodePointer(pointer))
}

func checksumRaw(generation uint32, raw uint64) uint16 {
	return uint16(generation) ^ uint16(generation>>16) ^
		uint16(raw) ^ uint16(raw>>16) ^ uint16(raw>>32)
}

func encodePointer(pointer int64) uint64 {
	if pointer == NoNode {
		return pointerMask
	}
	return uint64(pointer) & pointerMask
}

func decodePointer(raw uint64) int64 {
	if raw == pointerMask {
		return NoNode
	}
	return int64(raw)
}

func readGSP(c pager.PageCursor) GenSafePointer {
	generation := uint32(c.GetInt())
	hi := uint64(uint16(c.GetShort()))
	lo := uint64(uint32(c.GetInt()))
	checksum := uint16(c.GetShort())
	raw := hi<<32 | lo
	return GenSafePointer{
		Generation: generation,
		Pointer:    decodePointer(raw),
		Checksum:   checksum,
		raw:        raw,
	}
}

func writeGSP(c pager.PageCursor, generation uint32, pointer int64) {
	raw := encodePointer(pointer)
	c.PutInt(int32(generation))
	c.PutShort(int16(uint16(raw >> 32)))
	c.PutInt(int32(uint32(raw)))
	c.PutShort(int16(checksumRaw(generation, raw)))
}

func (p GenSafePointer) empty() bool {
	return p.Generation == 0 && p.raw == 0 && p.Checksum == 0
}

func (p GenSafePointer) checksumOK() bool {
	return checksumRaw(p.Generation, p.raw) == p.Checksum
}

// state classifies the slot for the given generation pair. Generations
// above stable other than unstable belong to a crashed writer.
func (p GenSafePointer) state(stable, unstable uint32) slotState {
	switch {
	case p.empty():
		return slotEmpty
	case !p.checksumOK(), p.Generation == 0:
		return slotInvalid
	case p.Generation <= stable, p.Generation == unstable:
		return slotValid
	default:
		return slotInvalid
	}
}
