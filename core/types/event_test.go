package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttributesRoundTrip(t *testing.T) {
	evt := &Event{Type: "lending.supply", Attributes: map[string]string{"user": "0x1", "amount": "5"}}
	raw, err := evt.MarshalAttributes()
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"5","user":"0x1"}`, string(raw))

	attrs, err := UnmarshalAttributes(raw)
	require.NoError(t, err)
	require.Equal(t, evt.Attributes, attrs)
}

func TestEmptyAttributes(t *testing.T) {
	var evt *Event
	raw, err := evt.MarshalAttributes()
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))

	attrs, err := UnmarshalAttributes(nil)
	require.NoError(t, err)
	require.Empty(t, attrs)

	_, err = UnmarshalAttributes([]byte("[1]"))
	require.Error(t, err)
}
