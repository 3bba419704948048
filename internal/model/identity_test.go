package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_Kinds(t *testing.T) {
	c := Confirmed("t1")
	p := Pending("tok-1")

	assert.True(t, c.IsConfirmed())
	assert.False(t, c.IsPending())
	assert.True(t, p.IsPending())
	assert.False(t, p.IsConfirmed())
	assert.True(t, Identity{}.IsZero())
	assert.Equal(t, "tok-1", p.Value())
}

func TestIdentity_PendingNeverEqualsConfirmed(t *testing.T) {
	assert.NotEqual(t, Confirmed("x"), Pending("x"))

	set := map[Identity]bool{Confirmed("x"): true}
	assert.False(t, set[Pending("x")])
}

func TestIdentity_StringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{"confirmed", Confirmed("t1"), "t1"},
		{"pending", Pending("abc"), "temp_abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.String())
			parsed, err := ParseIdentity(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseIdentity_Errors(t *testing.T) {
	_, err := ParseIdentity("")
	assert.ErrorIs(t, err, ErrEmptyIdentity)

	_, err = ParseIdentity(PendingPrefix)
	assert.Error(t, err)
}

func TestIdentity_JSON(t *testing.T) {
	data, err := json.Marshal(Pending("tok"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pending":"tok"}`, string(data))

	var id Identity
	require.NoError(t, json.Unmarshal([]byte(`{"confirmed":"t9"}`), &id))
	assert.Equal(t, Confirmed("t9"), id)

	err = json.Unmarshal([]byte(`{"confirmed":"a","pending":"b"}`), &id)
	assert.Error(t, err)
}
