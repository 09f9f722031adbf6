package updatemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryFIFOEviction(t *testing.T) {
	h := NewHistory(2)
	h.Append(Record{ID: "1"})
	h.Append(Record{ID: "2"})
	h.Append(Record{ID: "3"})

	require.Equal(t, 2, h.Len())
	recent := h.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
}

func TestHistoryRecentLimit(t *testing.T) {
	h := NewHistory(10)
	for _, id := range []string{"1", "2", "3"} {
		h.Append(Record{ID: id})
	}
	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
}
