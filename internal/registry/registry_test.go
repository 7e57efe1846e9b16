package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/protocol"
)

type target struct {
	calls []string
}

func recorder(name string) Handler[*target] {
	return func(ctx context.Context, t *target, body *protocol.Reader) (protocol.Response, error) {
		t.calls = append(t.calls, name)
		return protocol.AnswerPackets([]byte(name)), nil
	}
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New[*target]()
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StateLogin, 0x03, "login_acknowledged", recorder("ack")))

	name, h, err := r.Lookup(protocol.Version1_21, protocol.StateLogin, 0x03)
	require.NoError(t, err)
	assert.Equal(t, "login_acknowledged", name)
	assert.NotNil(t, h)

	id, err := r.IDOf(protocol.Version1_21, protocol.StateLogin, "login_acknowledged")
	require.NoError(t, err)
	assert.Equal(t, int32(0x03), id)

	assert.True(t, r.HasID(protocol.Version1_21, protocol.StateLogin, 0x03))
	assert.True(t, r.HasName(protocol.Version1_21, protocol.StateLogin, "login_acknowledged"))
	assert.False(t, r.HasID(protocol.Version1_21, protocol.StatePlay, 0x03))
	assert.True(t, r.Supports(protocol.Version1_21))
	assert.False(t, r.Supports(protocol.Version1_20_5))
}

func TestRegistry_Duplicates(t *testing.T) {
	r := New[*target]()
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StatePlay, 1, "a", nil))

	err := r.Register(protocol.Version1_21, protocol.StatePlay, 1, "b", nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	err = r.Register(protocol.Version1_21, protocol.StatePlay, 2, "a", nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same id in another state or version is fine.
	assert.NoError(t, r.Register(protocol.Version1_21, protocol.StateConfiguration, 1, "a", nil))
	assert.NoError(t, r.Register(protocol.Version1_21_2, protocol.StatePlay, 1, "a", nil))
}

func TestRegistry_Sequence(t *testing.T) {
	r := New[*target]()
	err := r.RegisterSequence(protocol.Version1_21_2, protocol.StatePlay, []Named[*target]{
		{Name: "zero"},
		{Name: "one"},
		{Name: "two", Handler: recorder("two")},
	})
	require.NoError(t, err)

	name, err := r.NameOf(protocol.Version1_21_2, protocol.StatePlay, 2)
	require.NoError(t, err)
	assert.Equal(t, "two", name)

	err = r.RegisterSequence(protocol.Version1_21_2, protocol.StatePlay, []Named[*target]{{Name: "again"}})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistry_Dispatch(t *testing.T) {
	r := New[*target]()
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StatePlay, 0x18, "keep_alive", recorder("keep_alive")))
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StatePlay, 0x19, "lock_difficulty", nil))
	ctx := context.Background()

	tgt := &target{}
	resp, err := r.Dispatch(ctx, protocol.Version1_21, protocol.StatePlay, 0x18, tgt, protocol.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Len())
	assert.Equal(t, []string{"keep_alive"}, tgt.calls)

	resp, err = r.Dispatch(ctx, protocol.Version1_21, protocol.StatePlay, 0x19, tgt, protocol.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Len())

	_, err = r.Dispatch(ctx, protocol.Version1_21, protocol.StatePlay, 0x55, tgt, protocol.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnknownPacket)

	_, err = r.Dispatch(ctx, protocol.Version(5), protocol.StatePlay, 0x18, tgt, protocol.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnknownProtocol)

	// Lookups are deterministic.
	for i := 0; i < 3; i++ {
		_, err = r.Dispatch(ctx, protocol.Version1_21, protocol.StatePlay, 0x55, tgt, protocol.NewReader(nil))
		assert.ErrorIs(t, err, ErrUnknownPacket)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := New[*target]()
	require.NoError(t, r.Register(protocol.Version1_20_5, protocol.StatePlay, 0, "a", nil))
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StatePlay, 0, "a", nil))
	assert.Equal(t, []protocol.Version{protocol.Version1_20_5, protocol.Version1_21}, r.Versions())

	r.Unregister(protocol.Version1_20_5)
	assert.Equal(t, []protocol.Version{protocol.Version1_21}, r.Versions())

	_, err := r.NameOf(protocol.Version1_20_5, protocol.StatePlay, 0)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := New[*target]()
	require.NoError(t, r.Register(protocol.Version1_21, protocol.StatePlay, 7, "seven", nil))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				name, err := r.NameOf(protocol.Version1_21, protocol.StatePlay, 7)
				assert.NoError(t, err)
				assert.Equal(t, "seven", name)
			}
		}()
	}
	wg.Wait()
}
