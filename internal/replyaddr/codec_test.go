package replyaddr

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec("reply", "mail.personifeed.com")

	for i := 0; i < 50; i++ {
		id := uuid.New()
		decoded, err := c.Decode(c.Encode(id))
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestEncodeFormat(t *testing.T) {
	c := NewCodec("reply", "mail.personifeed.com")
	id := uuid.MustParse("4f5cd1a0-9c32-44a1-8a6e-3e2b1f0a7d42")

	addr := c.Encode(id)
	assert.Equal(t, "reply+4f5cd1a0-9c32-44a1-8a6e-3e2b1f0a7d42@mail.personifeed.com", addr)
}

func TestDecodeNameAddrForm(t *testing.T) {
	c := NewCodec("reply", "mail.personifeed.com")
	id := uuid.New()

	decoded, err := c.Decode(fmt.Sprintf("Jane Doe <reply+%s@mail.personifeed.com>", id))
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestDecodeCaseInsensitive(t *testing.T) {
	c := NewCodec("reply", "mail.personifeed.com")
	id := uuid.New()

	decoded, err := c.Decode(fmt.Sprintf("Reply+%s@MAIL.Personifeed.COM", id))
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestDecodeNotAddressed(t *testing.T) {
	c := NewCodec("reply", "mail.personifeed.com")
	id := uuid.New()

	cases := []struct {
		name string
		addr string
	}{
		{"wrong domain", fmt.Sprintf("reply+%s@other.example.com", id)},
		{"missing delimiter", "random@mail.personifeed.com"},
		{"wrong local prefix", fmt.Sprintf("bounce+%s@mail.personifeed.com", id)},
		{"empty token", "reply+@mail.personifeed.com"},
		{"malformed token", "reply+not-a-uuid@mail.personifeed.com"},
		{"no at sign", "reply+whatever"},
		{"empty string", ""},
		{"garbage", ">>>%%%"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decode(tc.addr)
			assert.ErrorIs(t, err, ErrNotAddressed)
		})
	}
}
