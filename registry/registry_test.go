package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/types"
)

func pagePort(origin string) types.PortInfo {
	return types.PortInfo{
		URL:      origin + "/index.html",
		Origin:   origin,
		TabID:    7,
		WindowID: 1,
		Site:     types.SiteMetadata{Name: "dapp"},
	}
}

func TestRegisterPage(t *testing.T) {
	r := NewRegistry(types.DefaultConfig())

	t.Run("correct", func(t *testing.T) {
		inst, err := r.Register(types.ConnPage, pagePort("https://dapp.example"))
		require.NoError(t, err)
		require.Equal(t, "https://dapp.example", inst.Origin)

		got, err := r.Get(inst.ID)
		require.NoError(t, err)
		require.Equal(t, inst.ID, got.ID)

		require.NoError(t, r.Unregister(inst.ID))
		_, err = r.Get(inst.ID)
		require.True(t, errors.Is(err, types.ErrNotFound))
	})

	t.Run("invalid origin", func(t *testing.T) {
		info := pagePort("https://dapp.example")
		info.URL = "not a url at all\x00"
		_, err := r.Register(types.ConnPage, info)
		require.True(t, errors.Is(err, types.ErrInvalidOrigin))

		info = pagePort("https://dapp.example")
		info.TabID = -1
		_, err = r.Register(types.ConnPage, info)
		require.True(t, errors.Is(err, types.ErrInvalidOrigin))

		info = pagePort("https://dapp.example")
		info.Origin = ""
		_, err = r.Register(types.ConnPage, info)
		require.True(t, errors.Is(err, types.ErrInvalidOrigin))
	})

	t.Run("unregister unknown", func(t *testing.T) {
		require.True(t, errors.Is(r.Unregister(types.NewConnectionID()), types.ErrNotFound))
	})
}

func TestSingleUIWindow(t *testing.T) {
	r := NewRegistry(types.DefaultConfig())

	first, err := r.Register(types.ConnUI, types.PortInfo{})
	require.NoError(t, err)
	onboarding, err := r.Register(types.ConnOnboarding, types.PortInfo{})
	require.NoError(t, err)

	second, err := r.Register(types.ConnUI, types.PortInfo{})
	require.NoError(t, err)

	// the previous UI instance was closed, onboarding survives
	_, err = r.Get(first.ID)
	require.True(t, errors.Is(err, types.ErrNotFound))
	_, err = r.Get(onboarding.ID)
	require.NoError(t, err)
	_, err = r.Get(second.ID)
	require.NoError(t, err)

	// its outbound channel is closed
	_, open := <-first.Outbound
	require.False(t, open)
}

func TestNotifyAndBroadcast(t *testing.T) {
	r := NewRegistry(types.DefaultConfig())

	a1, err := r.Register(types.ConnPage, pagePort("https://a.example"))
	require.NoError(t, err)
	a2, err := r.Register(types.ConnPage, pagePort("https://a.example"))
	require.NoError(t, err)
	b, err := r.Register(types.ConnPage, pagePort("https://b.example"))
	require.NoError(t, err)

	r.BroadcastOrigin("https://a.example", types.ChainChangedNotification(137, "137"))
	require.Len(t, a1.Outbound, 1)
	require.Len(t, a2.Outbound, 1)
	require.Len(t, b.Outbound, 0)

	n := <-a1.Outbound
	require.Equal(t, types.EventChainChanged, n.Event)
	require.JSONEq(t, `{"chainId":"0x89","networkVersion":"137"}`, string(n.Payload))

	r.Notify(b.ID, types.DisconnectNotification())
	require.Len(t, b.Outbound, 1)

	unknown := types.NewConnectionID()
	r.Notify(unknown, types.DisconnectNotification()) // no-op
}

func TestOnUnregisterHook(t *testing.T) {
	r := NewRegistry(types.DefaultConfig())
	var dropped []types.ConnectionID
	r.OnUnregister(func(id types.ConnectionID) { dropped = append(dropped, id) })

	inst, err := r.Register(types.ConnPage, pagePort("https://a.example"))
	require.NoError(t, err)
	require.NoError(t, r.Unregister(inst.ID))
	require.Equal(t, []types.ConnectionID{inst.ID}, dropped)
}
