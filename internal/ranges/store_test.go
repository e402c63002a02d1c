package ranges

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPersistence struct{ MemoryPersistence }

func (f *failingPersistence) SaveRanges([]Range) error { return errors.New("disk full") }

func TestStore_HideUnhide(t *testing.T) {
	p := &MemoryPersistence{}
	s := NewStore(p)

	_, err := s.Hide(2, 5, Options{Hidden: Bool(true)}, 10)
	require.NoError(t, err)
	rs, err := s.Hide(6, 8, Options{Hidden: Bool(true)}, 10)
	require.NoError(t, err)
	assert.Equal(t, []Range{hidden(2, 8)}, rs)

	rs, err = s.Unhide(4, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, []Range{hidden(2, 3), hidden(5, 8)}, rs)

	stored, err := s.Ranges()
	require.NoError(t, err)
	assert.Equal(t, rs, stored)
}

func TestStore_SkipsSaveWhenUnchanged(t *testing.T) {
	p := &MemoryPersistence{}
	s := NewStore(p)
	_, err := s.Hide(0, 1, Options{}, 5)
	require.NoError(t, err)
	saves := p.Saves

	_, err = s.OnInsert(9, 1)
	require.NoError(t, err)
	_, err = s.Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, saves, p.Saves)

	_, err = s.OnInsert(0, 1)
	require.NoError(t, err)
	assert.Equal(t, saves+1, p.Saves)
}

func TestStore_OnDelete(t *testing.T) {
	s := NewStore(&MemoryPersistence{})
	_, err := s.Hide(0, 10, Options{Hidden: Bool(true)}, 11)
	require.NoError(t, err)
	rs, err := s.OnDelete(5, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []Range{hidden(0, 9)}, rs)
}

func TestStore_SaveErrorWrapped(t *testing.T) {
	s := NewStore(&failingPersistence{})
	_, err := s.Hide(0, 1, Options{}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save ranges")
}

func TestStore_Clear(t *testing.T) {
	p := &MemoryPersistence{}
	s := NewStore(p)
	_, _ = s.Hide(0, 1, Options{}, 5)
	require.NoError(t, s.Clear())
	rs, _ := s.Ranges()
	assert.Empty(t, rs)
}
