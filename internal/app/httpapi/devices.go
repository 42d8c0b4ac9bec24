package httpapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/R3E-Network/tip_settlement/internal/app/services/devices"
	internalhttputil "github.com/R3E-Network/tip_settlement/internal/httputil"
)

type registerDeviceRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}

type registerDeviceResponse struct {
	DeviceID string         `json:"deviceId"`
	Status   devices.Status `json:"status"`
}

type deviceDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey string    `json:"publicKey"`
	IsActive  bool      `json:"isActive"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	var req registerDeviceRequest
	if err := internalhttputil.DecodeJSON(r.Body, &req); err != nil {
		internalhttputil.BadRequest(w, r, err.Error())
		return
	}

	reg, err := h.app.Devices.Register(r.Context(), caller, req.Name, req.PublicKey)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if reg.Status == devices.StatusCreated {
		status = http.StatusCreated
	}
	internalhttputil.WriteJSON(w, status, registerDeviceResponse{DeviceID: reg.Device.ID, Status: reg.Status})
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := h.app.Devices.List(r.Context(), caller)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	out := make([]deviceDTO, 0, len(list))
	for _, d := range list {
		out = append(out, deviceDTO{
			ID:        d.ID,
			Name:      d.Name,
			PublicKey: base64.StdEncoding.EncodeToString(d.PublicKey),
			IsActive:  d.IsActive,
			LastSeen:  d.LastSeen,
			CreatedAt: d.CreatedAt,
		})
	}
	internalhttputil.WriteJSON(w, http.StatusOK, out)
}
