package network

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/state"
)

func TestListener_Serve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.OnlineMode = false
	env := state.NewEnv(state.Env{Config: cfg})
	l := NewListener(env, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	c := &testClient{t: t, conn: conn, r: bufio.NewReader(conn), threshold: protocol.CompressionDisabled}
	c.send(handshake(protocol.Version1_21, state.IntentStatus), protocol.NewPacket(0x00).Build())
	id, r := c.read()
	require.Equal(t, int32(0x00), id)
	raw, _ := r.ReadString(32767)
	assert.Contains(t, raw, `"protocol":767`)

	require.Eventually(t, func() bool { return l.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, l.Shutdown(shutdownCtx))
	assert.Equal(t, 0, l.Registry().Count())
}
