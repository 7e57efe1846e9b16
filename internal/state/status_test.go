package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/protocol"
)

func TestStatus(t *testing.T) {
	ctx := context.Background()

	newStatus := func(t *testing.T, version protocol.Version) (*Status, *Env) {
		env := newTestEnv(t, func(cfg *config.Config, env *Env) {
			cfg.Server.MOTD = "Welcome"
			cfg.Server.SampleSize = 1
			env.Favicon = "data:image/png;base64,AAAA"
		})
		conn := newFakeConn()
		conn.SetProtocolVersion(version)
		return NewStatus(env, conn), env
	}

	t.Run("request", func(t *testing.T) {
		s, env := newStatus(t, protocol.Version1_21)
		admitPlayer(t, env, newFakeConn(), "Notch")

		resp, err := s.HandlePacket(ctx, 0x00, protocol.NewReader(nil))
		require.NoError(t, err)
		assert.False(t, resp.IsDisconnect())
		require.Equal(t, 1, resp.Len())

		id, r := packetID(t, resp.Items()[0])
		assert.Equal(t, int32(0x00), id)
		raw, err := r.ReadString(32767)
		require.NoError(t, err)
		assert.Contains(t, raw, `"protocol":767`)

		var doc StatusDocument
		require.NoError(t, json.Unmarshal([]byte(raw), &doc))
		assert.Equal(t, "1.21", doc.Version.Name)
		assert.Equal(t, 20, doc.Players.Max)
		assert.Equal(t, 1, doc.Players.Online)
		require.Len(t, doc.Players.Sample, 1)
		assert.Equal(t, "Notch", doc.Players.Sample[0].Name)
		assert.Equal(t, "Welcome", doc.Description.Text)
		assert.Equal(t, "data:image/png;base64,AAAA", doc.Favicon)

		// A second request is a protocol violation.
		_, err = s.HandlePacket(ctx, 0x00, protocol.NewReader(nil))
		requireKind(t, err, KindProtocol)
	})

	t.Run("chat report flag", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.Config, env *Env) {
			cfg.Server.PreventsChatReports = true
		})
		conn := newFakeConn()
		conn.SetProtocolVersion(protocol.Version1_21)

		resp, err := NewStatus(env, conn).HandlePacket(ctx, 0x00, protocol.NewReader(nil))
		require.NoError(t, err)
		_, r := packetID(t, resp.Items()[0])
		raw, err := r.ReadString(32767)
		require.NoError(t, err)
		assert.Contains(t, raw, `"preventsChatReports":true`)
		assert.NotContains(t, raw, `"preventChatReports"`)
	})

	t.Run("unsupported client sees primary version", func(t *testing.T) {
		s, _ := newStatus(t, 47)
		resp, err := s.HandlePacket(ctx, 0x00, protocol.NewReader(nil))
		require.NoError(t, err)
		_, r := packetID(t, resp.Items()[0])
		raw, _ := r.ReadString(32767)
		assert.Contains(t, raw, `"protocol":768`)
	})

	t.Run("ping", func(t *testing.T) {
		s, _ := newStatus(t, protocol.Version1_21)
		resp, err := s.HandlePacket(ctx, 0x01, body(protocol.NewPacketBuilder().WriteInt64(42)))
		require.NoError(t, err)
		assert.True(t, resp.DisconnectAfterFlush())
		require.Equal(t, 1, resp.Len())

		id, r := packetID(t, resp.Items()[0])
		assert.Equal(t, int32(0x01), id)
		v, err := r.ReadInt64()
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("bad shapes", func(t *testing.T) {
		s, _ := newStatus(t, protocol.Version1_21)
		_, err := s.HandlePacket(ctx, 0x00, protocol.NewReader([]byte{1}))
		requireKind(t, err, KindProtocol)
		_, err = s.HandlePacket(ctx, 0x01, protocol.NewReader([]byte{1, 2, 3}))
		requireKind(t, err, KindProtocol)
		_, err = s.HandlePacket(ctx, 0x02, protocol.NewReader(nil))
		requireKind(t, err, KindProtocol)
	})
}

func TestLoadFavicon(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "icon.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\nrest"), 0644))

	uri, err := LoadFavicon(png)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgpyZXN0", uri)

	txt := filepath.Join(dir, "icon.txt")
	require.NoError(t, os.WriteFile(txt, []byte("not an image"), 0644))
	_, err = LoadFavicon(txt)
	assert.Error(t, err)

	_, err = LoadFavicon(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}
