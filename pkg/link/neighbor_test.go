package link

import (
	"testing"

	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborTable(t *testing.T) {
	table := NewNeighborTable()
	addrB := transport.PipeAddr{ID: 1, Port: transport.DefaultPort}
	addrC := transport.PipeAddr{ID: 2, Port: transport.DefaultPort}

	table.Add(Neighbor{ExtAddress: extB, ShortAddress: 0x0002, Addr: addrB})
	table.Add(Neighbor{ExtAddress: 0xACDE480000000003, ShortAddress: frame.NoShortAddress, Addr: addrC})
	assert.Equal(t, 2, table.Len())

	n, ok := table.ByShort(0x0002)
	require.True(t, ok)
	assert.Equal(t, extB, n.ExtAddress)

	_, ok = table.ByShort(frame.NoShortAddress)
	assert.False(t, ok, "NoShortAddress is never indexed")

	all := table.All()
	require.Len(t, all, 2)
	assert.Equal(t, extB, all[0].ExtAddress)

	// Reassigning the short address drops the old index entry.
	table.Add(Neighbor{ExtAddress: extB, ShortAddress: 0x0005, Addr: addrB})
	_, ok = table.ByShort(0x0002)
	assert.False(t, ok)
	_, ok = table.ByShort(0x0005)
	assert.True(t, ok)

	assert.True(t, table.Remove(extB))
	assert.False(t, table.Remove(extB))
	_, ok = table.ByShort(0x0005)
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())
}

func TestNeighborTableResolve(t *testing.T) {
	table := NewNeighborTable()
	table.Add(Neighbor{ExtAddress: extA, ShortAddress: 0x0001})
	table.Add(Neighbor{ExtAddress: extB, ShortAddress: 0x0002})

	tests := []struct {
		name string
		dest frame.Address
		want []uint64
	}{
		{"extended", frame.ExtendedAddress(extB), []uint64{extB}},
		{"short", frame.ShortAddress(0x0001), []uint64{extA}},
		{"broadcast", frame.ShortAddress(frame.BroadcastShortAddress), []uint64{extA, extB}},
		{"unknown short", frame.ShortAddress(0x0009), nil},
		{"unknown extended", frame.ExtendedAddress(0x1), nil},
		{"no address", frame.Address{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []uint64
			for _, n := range table.Resolve(tt.dest) {
				got = append(got, n.ExtAddress)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
