package dmx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameRGB(t *testing.T) {
	f := Frame{Channels: []byte{0, 10, 20, 30, 40}}

	r, g, b, ok := f.RGB(1)
	assert.True(t, ok)
	assert.Equal(t, []byte{10, 20, 30}, []byte{r, g, b})

	r, g, b, ok = f.RGB(2)
	assert.True(t, ok)
	assert.Equal(t, []byte{20, 30, 40}, []byte{r, g, b})

	_, _, _, ok = f.RGB(3)
	assert.False(t, ok)

	_, _, _, ok = f.RGB(0)
	assert.False(t, ok)

	_, _, _, ok = Frame{}.RGB(1)
	assert.False(t, ok)
}
