package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/attr"
)

func mustRecord(t *testing.T, k *Kind, attrs map[string]any) *Record {
	t.Helper()
	r, err := NewRecord(k, attrs)
	require.NoError(t, err)
	return r
}

func TestRecord_SetEmitsChange(t *testing.T) {
	r := mustRecord(t, nil, map[string]any{"id": "r1", "a": 1})

	var events []Event
	r.OnChange(func(ev Event) { events = append(events, ev) })

	require.NoError(t, r.Set(map[string]any{"a": 1, "b": "x"}))

	require.Len(t, events, 1)
	assert.Equal(t, []string{"b"}, events[0].Changed, "unchanged keys are not reported")
	assert.Equal(t, OriginLocal, events[0].Origin)
	assert.Same(t, r, events[0].Record)
	assert.Equal(t, attr.Attributes{"id": "r1", "a": int64(1), "b": "x"}, r.Attributes())
}

func TestRecord_NoEventWithoutChange(t *testing.T) {
	r := mustRecord(t, nil, map[string]any{"a": 1})

	fired := false
	r.OnChange(func(Event) { fired = true })

	require.NoError(t, r.Set(map[string]any{"a": 1.0}))
	require.NoError(t, r.Unset([]string{"missing"}))
	assert.False(t, fired)
}

func TestRecord_UpdateIsOneEvent(t *testing.T) {
	r := mustRecord(t, nil, map[string]any{"id": "r1", "a": 1, "b": 2})

	var events []Event
	r.OnChange(func(ev Event) { events = append(events, ev) })

	require.NoError(t, r.Update(map[string]any{"c": 3}, []string{"a"}, FromRemote()))

	require.Len(t, events, 1)
	assert.Equal(t, []string{"a", "c"}, events[0].Changed)
	assert.Equal(t, OriginRemote, events[0].Origin)
	assert.Equal(t, attr.Attributes{"id": "r1", "b": int64(2), "c": int64(3)}, r.Attributes())
}

func TestRecord_Silent(t *testing.T) {
	r := mustRecord(t, nil, nil)

	fired := false
	r.OnChange(func(Event) { fired = true })
	require.NoError(t, r.Set(map[string]any{"a": 1}, Silent()))

	assert.False(t, fired)
	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestRecord_IDIsAssignedOnce(t *testing.T) {
	r := mustRecord(t, nil, nil)
	assert.True(t, r.IsNew())

	require.NoError(t, r.Set(map[string]any{"id": "k1"}))
	assert.False(t, r.IsNew())
	assert.Equal(t, "k1", r.ID())

	require.NoError(t, r.Set(map[string]any{"id": "k1"}), "same id is not a reassignment")
	assert.ErrorIs(t, r.Set(map[string]any{"id": "k2"}), ErrIDReassigned)
	assert.ErrorIs(t, r.Unset([]string{"id"}), ErrIDReassigned)
	assert.Equal(t, "k1", r.ID())
}

func TestRecord_InvalidID(t *testing.T) {
	_, err := NewRecord(nil, map[string]any{"id": 7})
	assert.ErrorIs(t, err, ErrInvalidID)

	r := mustRecord(t, nil, nil)
	assert.ErrorIs(t, r.Set(map[string]any{"id": ""}), ErrInvalidID)
}

func TestRecord_UnsubscribeListener(t *testing.T) {
	r := mustRecord(t, nil, nil)

	n := 0
	off := r.OnChange(func(Event) { n++ })
	require.NoError(t, r.Set(map[string]any{"a": 1}))
	off()
	require.NoError(t, r.Set(map[string]any{"a": 2}))

	assert.Equal(t, 1, n)
}

func TestRecord_ApplyDefaults(t *testing.T) {
	k := &Kind{Name: "todo", Defaults: map[string]any{"done": false, "title": "untitled", "id": "ignored"}}
	r := mustRecord(t, k, map[string]any{"id": "t1", "title": "write tests"})

	var changed []string
	r.OnChange(func(ev Event) { changed = ev.Changed })

	filled, err := r.ApplyDefaults()
	require.NoError(t, err)

	assert.Equal(t, []string{"done"}, filled)
	assert.Equal(t, []string{"done"}, changed)
	assert.Equal(t, attr.Attributes{"id": "t1", "title": "write tests", "done": false}, r.Attributes())

	filled, err = r.ApplyDefaults()
	require.NoError(t, err)
	assert.Empty(t, filled)
}

func TestRecord_DestroyOnce(t *testing.T) {
	r := mustRecord(t, nil, map[string]any{"id": "r1"})

	n := 0
	r.On(EventDestroy, func(Event) { n++ })
	r.Destroy()
	r.Destroy()

	assert.Equal(t, 1, n)
	assert.True(t, r.Destroyed())
}

func TestRecord_ListenerMayMutate(t *testing.T) {
	r := mustRecord(t, nil, nil)

	r.OnChange(func(ev Event) {
		if _, ok := r.Get("derived"); !ok {
			require.NoError(t, r.Set(map[string]any{"derived": true}))
		}
	})
	require.NoError(t, r.Set(map[string]any{"a": 1}))

	v, _ := r.Get("derived")
	assert.Equal(t, true, v)
}
