package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	records := []Record{
		{Addr: 1024, PC: 0x400, HasPC: true, IsStore: false},
		{Addr: 1088, PC: 0x400, HasPC: true, IsStore: true},
		{Addr: 2048, PC: 0, HasPC: false, IsStore: false},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, records))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestReadSkipsBlankLinesAndComments(t *testing.T) {
	input := "# a comment\n\n100 0 false false\n\n# trailing comment\n200 16 true true\n"
	got, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Addr: 100, PC: 0, HasPC: false, IsStore: false},
		{Addr: 200, PC: 16, HasPC: true, IsStore: true},
	}, got)
}

func TestReadRejectsMalformedLine(t *testing.T) {
	_, err := Read(strings.NewReader("100 0 false\n"))
	require.Error(t, err)
}

func TestReadRejectsNonNumericAddr(t *testing.T) {
	_, err := Read(strings.NewReader("not-a-number 0 false false\n"))
	require.Error(t, err)
}

func TestToAccessEventsDropsStoreBit(t *testing.T) {
	records := []Record{{Addr: 64, PC: 0x10, HasPC: true, IsStore: true}}
	events := ToAccessEvents(records)
	require.Len(t, events, 1)
	require.Equal(t, uint64(64), events[0].Addr)
	require.Equal(t, uint64(0x10), events[0].PC)
	require.True(t, events[0].HasPC)
}

func TestFromAddrsLeavesPCUnset(t *testing.T) {
	records := FromAddrs([]uint64{8, 16, 24})
	require.Len(t, records, 3)
	for i, r := range records {
		require.Equal(t, []uint64{8, 16, 24}[i], r.Addr)
		require.False(t, r.HasPC)
		require.Zero(t, r.PC)
	}
}
