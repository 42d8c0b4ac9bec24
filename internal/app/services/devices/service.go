// Package devices manages the signing keys users register from their
// devices.
package devices

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/services/signature"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Status reports whether a registration created a device.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusExists  Status = "EXISTS"
)

// Registration is the result of registering a key.
type Registration struct {
	Device      account.Device
	Status      Status
	Deactivated int
}

// Service registers and lists devices.
type Service struct {
	users   storage.UserStore
	devices storage.DeviceStore
	log     *logging.Logger
}

// New creates a device service.
func New(users storage.UserStore, devices storage.DeviceStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("devices")
	}
	return &Service{users: users, devices: devices, log: log}
}

// Register stores publicKey for userID. Re-registering a known key refreshes
// it. A new key whose name shares the "<app>-" prefix of older devices is
// treated as a reinstall: the older devices are deactivated, not deleted, so
// tips they signed stay attributable.
func (s *Service) Register(ctx context.Context, userID, name, publicKey string) (Registration, error) {
	key, err := decodeKey(publicKey)
	if err != nil {
		return Registration{}, err
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Registration{}, svcerrors.NotFound("User")
		}
		return Registration{}, svcerrors.Internal("Failed to load user", err)
	}

	name = strings.TrimSpace(name)
	device, created, err := s.devices.UpsertDevice(ctx, account.Device{UserID: userID, Name: name, PublicKey: key})
	if err != nil {
		return Registration{}, svcerrors.Internal("Failed to register device", err)
	}

	reg := Registration{Device: device, Status: StatusExists}
	entry := s.log.WithContext(ctx).WithField("user_id", userID).WithField("device_id", device.ID)
	if !created {
		entry.Debug("device refreshed")
		return reg, nil
	}
	reg.Status = StatusCreated

	if prefix, ok := reinstallPrefix(name); ok {
		n, err := s.devices.DeactivateDevicesByPrefix(ctx, userID, prefix, key)
		if err != nil {
			entry.WithError(err).Warn("failed to deactivate superseded devices")
		} else if n > 0 {
			reg.Deactivated = n
			entry.WithField("deactivated", n).WithField("prefix", prefix).Info("reinstall detected")
		}
	}
	entry.Info("device registered")
	return reg, nil
}

// List returns the user's devices.
func (s *Service) List(ctx context.Context, userID string) ([]account.Device, error) {
	devices, err := s.devices.ListDevices(ctx, userID)
	if err != nil {
		return nil, svcerrors.Internal("Failed to list devices", err)
	}
	return devices, nil
}

// reinstallPrefix returns "<app>-" for names of the form "<app>-<suffix>".
func reinstallPrefix(name string) (string, bool) {
	i := strings.Index(name, "-")
	if i <= 0 {
		return "", false
	}
	return name[:i+1], true
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil || !signature.ValidKey(key) {
		return nil, svcerrors.BadRequest("Invalid public key format")
	}
	return key, nil
}
