package bptree

import (
	"math/rand"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPair(c pager.PageCursor, stable, unstable uint32) (int64, error) {
	c.SetOffset(0)
	return ReadPointerPair(c, stable, unstable)
}

func writePair(c pager.PageCursor, pointer int64, stable, unstable uint32) bool {
	c.SetOffset(0)
	return WritePointerPair(c, pointer, stable, unstable)
}

func putSlot(c pager.PageCursor, slot int, generation uint32, pointer int64) {
	c.SetOffset(slot * GSPSize)
	writeGSP(c, generation, pointer)
}

// breakChecksum flips a bit in the checksum of one slot.
func breakChecksum(c pager.PageCursor, slot int) {
	off := slot*GSPSize + GSPSize - 1
	c.SetOffset(off)
	b := c.GetByte()
	c.SetOffset(off)
	c.PutByte(b ^ 0x01)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint16(1^5), Checksum(1, 5))
	assert.Equal(t, uint16(0x0001^0x0002^0x3333^0x2222^0x1111), Checksum(0x00020001, 0x111122223333))
	assert.Equal(t, uint16(0), Checksum(0, 0))
}

func TestPointerPair_NoNodeAndMaxPointer(t *testing.T) {
	c := writeCursorOn(t, smallPage, 1)

	for _, p := range []int64{NoNode, 0, 1, MaxPointer} {
		c.SetOffset(0)
		c.PutBytes(make([]byte, GSPPSize))
		require.True(t, writePair(c, p, 1, 2))
		got, err := readPair(c, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestPointerPair_ReadRules(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(c pager.PageCursor)
		stable   uint32
		unstable uint32
		want     int64
		wantErr  error
	}{
		{
			name:    "both empty",
			setup:   func(pager.PageCursor) {},
			stable:  1, unstable: 2,
			wantErr: errPairNoValidSlot,
		},
		{
			name:   "only A valid",
			setup:  func(c pager.PageCursor) { putSlot(c, 0, 1, 10) },
			stable: 1, unstable: 2,
			want: 10,
		},
		{
			name:   "only B valid",
			setup:  func(c pager.PageCursor) { putSlot(c, 1, 2, 20) },
			stable: 1, unstable: 2,
			want: 20,
		},
		{
			name: "higher generation wins",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 3, 30)
				putSlot(c, 1, 2, 20)
			},
			stable: 3, unstable: 4,
			want: 30,
		},
		{
			name: "unstable beats stable",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 5, 50)
			},
			stable: 2, unstable: 5,
			want: 50,
		},
		{
			name: "crashed generation ignored",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 3, 30)
			},
			stable: 1, unstable: 4,
			want: 10,
		},
		{
			name: "equal generations",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 1, 11)
			},
			stable: 1, unstable: 2,
			wantErr: errPairSameGeneration,
		},
		{
			name: "broken checksum ignored",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 2, 20)
				breakChecksum(c, 1)
			},
			stable: 1, unstable: 2,
			want: 10,
		},
		{
			name: "both broken",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 2, 20)
				breakChecksum(c, 0)
				breakChecksum(c, 1)
			},
			stable: 1, unstable: 2,
			wantErr: errPairNoValidSlot,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := writeCursorOn(t, smallPage, 1)
			tc.setup(c)
			got, err := readPair(c, tc.stable, tc.unstable)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.ErrorIs(t, err, ErrCorruption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, GSPPSize, c.Offset())
		})
	}
}

func TestPointerPair_WriteSlotPriority(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(c pager.PageCursor)
		stable   uint32
		unstable uint32
		wantSlot int
		wantOK   bool
	}{
		{
			name:   "empty pair takes A",
			setup:  func(pager.PageCursor) {},
			stable: 1, unstable: 2,
			wantSlot: 0, wantOK: true,
		},
		{
			name:   "same generation overwritten in place",
			setup:  func(c pager.PageCursor) { putSlot(c, 1, 2, 20) },
			stable: 1, unstable: 2,
			wantSlot: 1, wantOK: true,
		},
		{
			name: "invalid before empty",
			setup: func(c pager.PageCursor) {
				putSlot(c, 1, 1, 20)
				breakChecksum(c, 1)
			},
			stable: 1, unstable: 2,
			wantSlot: 1, wantOK: true,
		},
		{
			name:   "empty before older",
			setup:  func(c pager.PageCursor) { putSlot(c, 0, 1, 10) },
			stable: 1, unstable: 2,
			wantSlot: 1, wantOK: true,
		},
		{
			name: "lower generation replaced",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 2, 10)
				putSlot(c, 1, 1, 20)
			},
			stable: 2, unstable: 3,
			wantSlot: 1, wantOK: true,
		},
		{
			name: "crashed generation replaced",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 4, 40)
			},
			stable: 1, unstable: 2,
			wantSlot: 1, wantOK: true,
		},
		{
			name: "both at unstable",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 2, 10)
				putSlot(c, 1, 2, 20)
			},
			stable: 1, unstable: 2,
			wantOK: false,
		},
		{
			name: "both invalid",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 1, 20)
				breakChecksum(c, 0)
				breakChecksum(c, 1)
			},
			stable: 1, unstable: 2,
			wantOK: false,
		},
		{
			name: "equal stable generations",
			setup: func(c pager.PageCursor) {
				putSlot(c, 0, 1, 10)
				putSlot(c, 1, 1, 20)
			},
			stable: 1, unstable: 2,
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := writeCursorOn(t, smallPage, 1)
			tc.setup(c)
			before := make([]byte, GSPPSize)
			c.SetOffset(0)
			c.GetBytes(before)

			ok := writePair(c, 77, tc.stable, tc.unstable)
			require.Equal(t, tc.wantOK, ok)
			assert.Equal(t, GSPPSize, c.Offset())

			after := make([]byte, GSPPSize)
			c.SetOffset(0)
			c.GetBytes(after)
			if !tc.wantOK {
				assert.Equal(t, before, after, "failed write must not touch the pair")
				return
			}
			other := 1 - tc.wantSlot
			assert.Equal(t, before[other*GSPSize:(other+1)*GSPSize], after[other*GSPSize:(other+1)*GSPSize])
			c.SetOffset(tc.wantSlot * GSPSize)
			slot := readGSP(c)
			assert.Equal(t, tc.unstable, slot.Generation)
			assert.Equal(t, int64(77), slot.Pointer)

			got, err := readPair(c, tc.stable, tc.unstable)
			require.NoError(t, err)
			assert.Equal(t, int64(77), got)
		})
	}
}

func TestPointerPair_CorruptingOneSlotLeavesTheOther(t *testing.T) {
	c := writeCursorOn(t, smallPage, 1)

	require.True(t, writePair(c, 100, 0, 1))
	require.True(t, writePair(c, 200, 1, 2))
	got, err := readPair(c, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)

	breakChecksum(c, 1)
	got, err = readPair(c, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got)

	breakChecksum(c, 1)
	breakChecksum(c, 0)
	got, err = readPair(c, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)
}

// Whenever a write succeeds, reading with the same generations returns the
// written pointer, whatever garbage the pair held before.
func TestPointerPair_RoundTripProperty(t *testing.T) {
	c := writeCursorOn(t, smallPage, 1)
	rng := rand.New(rand.NewSource(1))

	randomSlot := func(slot int) {
		switch rng.Intn(4) {
		case 0:
			c.SetOffset(slot * GSPSize)
			c.PutBytes(make([]byte, GSPSize))
		case 1:
			putSlot(c, slot, uint32(rng.Intn(6)+1), rng.Int63n(MaxPointer))
		case 2:
			putSlot(c, slot, uint32(rng.Intn(6)+1), rng.Int63n(MaxPointer))
			breakChecksum(c, slot)
		default:
			garbage := make([]byte, GSPSize)
			rng.Read(garbage)
			c.SetOffset(slot * GSPSize)
			c.PutBytes(garbage)
		}
	}

	var succeeded int
	for i := 0; i < 5000; i++ {
		randomSlot(0)
		randomSlot(1)
		stable := uint32(rng.Intn(5) + 1)
		unstable := stable + uint32(rng.Intn(3)+1)
		pointer := rng.Int63n(MaxPointer)

		if !writePair(c, pointer, stable, unstable) {
			continue
		}
		succeeded++
		got, err := readPair(c, stable, unstable)
		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, pointer, got, "iteration %d", i)
	}
	assert.Greater(t, succeeded, 1000)
}
