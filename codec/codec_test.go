package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name   string  `json:"name"`
	Recall float64 `json:"recall"`
	Ks     []int   `json:"ks"`
}

func TestJSONRoundTrip(t *testing.T) {
	in := payload{Name: "run-1", Recall: 0.93, Ks: []int{1, 10, 100}}
	data, err := JSON{}.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, JSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshalDefaults(t *testing.T) {
	assert.NotPanics(t, func() {
		MustMarshal(nil, payload{Name: "x"})
	})
}
