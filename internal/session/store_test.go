package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGetDelete(t *testing.T) {
	st := NewStore()
	s := newTestSession()
	st.Put(s)

	got, ok := st.Get("sess-1")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, err := st.GetOrError("sess-1")
	require.NoError(t, err)

	st.Delete("sess-1")
	_, ok = st.Get("sess-1")
	assert.False(t, ok)
}

func TestStoreGetOrErrorMissing(t *testing.T) {
	st := NewStore()
	_, err := st.GetOrError("nope")
	require.Error(t, err)
}

func TestCheckCapsRejectsOverLimit(t *testing.T) {
	s := newTestSession()
	s.AddMedia(MediaMeta{ID: "m1"})
	s.AddMedia(MediaMeta{ID: "m2"})

	caps := MediaCaps{MaxMediaPerSession: 3, MaxPendingMediaPerSession: 5}
	require.NoError(t, s.CheckCaps(caps, 1, 0))

	err := s.CheckCaps(caps, 2, 0)
	require.Error(t, err)
}

func TestCheckCapsCountsInFlightUploads(t *testing.T) {
	s := newTestSession()
	caps := MediaCaps{MaxMediaPerSession: 2}
	require.NoError(t, s.CheckCaps(caps, 0, 2))
	require.Error(t, s.CheckCaps(caps, 1, 2))
}
