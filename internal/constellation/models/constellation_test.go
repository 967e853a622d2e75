package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPayload(t *testing.T, e Entity) []byte {
	t.Helper()
	b, err := EncodePayload(e)
	require.NoError(t, err)
	return b
}

func TestAssemble(t *testing.T) {
	rows := []Row{
		{EntityID: 12, Version: 3, Kind: KindNameComponent, ParentID: 10, Payload: mustPayload(t, &NameComponent{Text: "Doe"})},
		{EntityID: 10, Version: 1, Kind: KindNameEntry, Payload: mustPayload(t, &NameEntry{Original: "Jane Doe"})},
		{EntityID: 11, Version: 2, Kind: KindNameComponent, ParentID: 10, Payload: mustPayload(t, &NameComponent{Text: "Jane"})},
		{EntityID: 20, Version: 2, Kind: KindDate, Deleted: true},
		{EntityID: 21, Version: 2, Kind: KindControlMetadata, ParentID: 20, Payload: mustPayload(t, &ControlMetadata{Note: "orphan"})},
	}

	top, err := Assemble(rows)
	require.NoError(t, err)
	require.Len(t, top, 1)

	name := top[0].(*NameEntry)
	assert.Equal(t, Header{ID: 10, Version: 1}, name.Header)
	require.Len(t, name.Components, 2)
	assert.Equal(t, int64(11), name.Components[0].ID)
	assert.Equal(t, int64(12), name.Components[1].ID)
}

func TestConstellationAddAndFind(t *testing.T) {
	c := &Constellation{}
	name := &NameEntry{Header: Header{ID: 1}, Original: "Mark Twain", Components: []*NameComponent{{Header: Header{ID: 2}, Text: "Twain"}}}
	require.NoError(t, c.Add(name))
	require.NoError(t, c.Add(&Occupation{Header: Header{ID: 3}, Term: Term{Label: "Writer"}}))
	require.Error(t, c.Add(&NameComponent{Text: "stray"}))

	assert.Len(t, c.Entities(), 2)
	assert.Same(t, name.Components[0], c.Find(2))
	assert.Nil(t, c.Find(99))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPublished, StatusLockedEditing, true},
		{StatusNeedsReview, StatusLockedEditing, true},
		{StatusLockedEditing, StatusPublished, true},
		{StatusLockedEditing, StatusDeleted, true},
		{StatusPublished, StatusDeleted, false},
		{StatusDeleted, StatusLockedEditing, true},
		{StatusDeleted, StatusPublished, false},
		{StatusTombstone, StatusLockedEditing, false},
		{StatusTombstone, StatusPublished, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StatusTombstone.IsTerminal())
}

func TestCanonicalPair(t *testing.T) {
	a, b, err := CanonicalPair(9, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), a)
	assert.Equal(t, int64(9), b)

	_, _, err = CanonicalPair(4, 4)
	require.Error(t, err)
	_, _, err = CanonicalPair(0, 4)
	require.Error(t, err)
}
