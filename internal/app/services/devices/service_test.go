package devices

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
	"github.com/R3E-Network/tip_settlement/pkg/testutil"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	_, err := store.CreateUser(context.Background(), account.User{ID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	return New(store, store, logging.NewDiscard()), store
}

func TestRegisterCreatedThenExists(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	key := testutil.NewDeviceKey()

	reg, err := svc.Register(ctx, "alice", "TipApp-a1b2", key.PublicKeyBase64())
	require.NoError(t, err)
	require.Equal(t, StatusCreated, reg.Status)
	require.True(t, reg.Device.IsActive)

	again, err := svc.Register(ctx, "alice", "", key.PublicKeyBase64())
	require.NoError(t, err)
	require.Equal(t, StatusExists, again.Status)
	require.Equal(t, reg.Device.ID, again.Device.ID)
	require.Equal(t, "TipApp-a1b2", again.Device.Name)
}

func TestRegisterReinstallDeactivatesOldKeys(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	old := testutil.NewDeviceKey()
	other := testutil.NewDeviceKey()
	fresh := testutil.NewDeviceKey()

	_, err := svc.Register(ctx, "alice", "TipApp-old1", old.PublicKeyBase64())
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "Tablet", other.PublicKeyBase64())
	require.NoError(t, err)

	reg, err := svc.Register(ctx, "alice", "TipApp-new2", fresh.PublicKeyBase64())
	require.NoError(t, err)
	require.Equal(t, StatusCreated, reg.Status)
	require.Equal(t, 1, reg.Deactivated)

	devices, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, devices, 3)
	active := map[string]bool{}
	for _, d := range devices {
		active[d.Name] = d.IsActive
	}
	require.Equal(t, map[string]bool{"TipApp-old1": false, "Tablet": true, "TipApp-new2": true}, active)
}

func TestRegisterAcceptsSPKIKeys(t *testing.T) {
	svc, _ := newService(t)
	key := testutil.NewDeviceKey()
	der, err := x509.MarshalPKIXPublicKey(key.Public)
	require.NoError(t, err)

	reg, err := svc.Register(context.Background(), "alice", "Phone", base64.StdEncoding.EncodeToString(der))
	require.NoError(t, err)
	require.Len(t, reg.Device.PublicKey, 44)
}

func TestRegisterRejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, bad := range []string{"", "!!!", base64.StdEncoding.EncodeToString([]byte("too short"))} {
		_, err := svc.Register(ctx, "alice", "Phone", bad)
		require.True(t, svcerrors.HasCode(err, svcerrors.CodeBadRequest), "key %q: %v", bad, err)
	}

	_, err := svc.Register(ctx, "nobody", "Phone", testutil.NewDeviceKey().PublicKeyBase64())
	require.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "got %v", err)
}

func TestReinstallPrefix(t *testing.T) {
	cases := map[string]string{
		"TipApp-a1b2":   "TipApp-",
		"TipApp-a-b":    "TipApp-",
		"Phone":         "",
		"-leading-dash": "",
		"":              "",
	}
	for name, want := range cases {
		got, ok := reinstallPrefix(name)
		require.Equal(t, want, got, name)
		require.Equal(t, want != "", ok, name)
	}
}
