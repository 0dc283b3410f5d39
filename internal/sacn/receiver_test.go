package sacn

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacn2ble/internal/dmx"
	"sacn2ble/internal/logger"
)

func TestReceiverRun(t *testing.T) {
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	var drops atomic.Int32
	r := newReceiver(logger.Discard(), c, ListenConf{OnDrop: func(error) { drops.Add(1) }})
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan dmx.Frame, 4)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, out) }()

	sender, err := net.Dial("udp4", c.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	truncated := buildPacket(3, 1, []byte{0, 1, 2, 3})
	binary.BigEndian.PutUint16(truncated[offLength:], 200)

	_, err = sender.Write([]byte("not sacn at all"))
	require.NoError(t, err)
	_, err = sender.Write(truncated)
	require.NoError(t, err)
	_, err = sender.Write(buildPacket(7, 9, []byte{0, 10, 20, 30}))
	require.NoError(t, err)

	select {
	case f := <-out:
		assert.Equal(t, uint16(7), f.Universe)
		assert.Equal(t, uint8(9), f.Sequence)
		assert.Equal(t, []byte{0, 10, 20, 30}, f.Channels)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	assert.Equal(t, int32(1), drops.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
