// Package wifi reads the device's current wireless association through a
// platform capability and normalizes it into a WifiReading.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/internal/model"
)

// Failure modes of ReadCurrent. Callers branch on these with errors.Is.
var (
	ErrPermissionDenied      = errors.New("location permission required for BSSID access")
	ErrWifiDisabled          = errors.New("wifi is disabled on device")
	ErrNoAssociation         = errors.New("no access point associated")
	ErrCapabilityUnavailable = errors.New("platform wifi capability unavailable")
)

// Androids without location permission report a placeholder instead of the
// real BSSID. Those are never surfaced as readings.
var sentinelBSSIDs = map[string]struct{}{
	"02:00:00:00:00:00": {},
	"00:00:00:00:00:00": {},
}

const sentinelSSID = "<unknown ssid>"

// Association is the raw result of one platform query.
type Association struct {
	BSSID         string
	SSID          string
	SignalDbm     int
	LinkSpeedMbps int
}

// State reports the platform's radio and permission status.
type State struct {
	WifiEnabled        bool
	LocationPermission bool
}

// Platform is the device capability the reader queries. Implementations map
// OS-specific failures to the sentinel errors above or return raw data for
// the reader to validate.
type Platform interface {
	Association(ctx context.Context) (Association, error)
	State(ctx context.Context) (State, error)
}

// Reader turns platform queries into validated, normalized readings.
type Reader struct {
	platform Platform
	logger   *log.Logger
}

// NewReader creates a Reader over the given platform capability. A nil
// platform yields ErrCapabilityUnavailable from every read.
func NewReader(platform Platform, logger *log.Logger) *Reader {
	return &Reader{platform: platform, logger: logger.With("component", "wifi")}
}

// ReadCurrent samples the current association. The returned BSSID, when
// present, is lower-case colon-separated hex; placeholder addresses are
// reported as ErrNoAssociation.
func (r *Reader) ReadCurrent(ctx context.Context) (model.WifiReading, error) {
	capturedAt := time.Now().UTC()

	if r.platform == nil {
		return model.WifiReading{CapturedAt: capturedAt}, ErrCapabilityUnavailable
	}

	state, err := r.platform.State(ctx)
	if err != nil {
		r.logger.Debug("platform state query failed", "err", err)
		return model.WifiReading{CapturedAt: capturedAt}, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	if !state.WifiEnabled {
		return model.WifiReading{CapturedAt: capturedAt}, ErrWifiDisabled
	}
	if !state.LocationPermission {
		return model.WifiReading{CapturedAt: capturedAt}, ErrPermissionDenied
	}

	assoc, err := r.platform.Association(ctx)
	if err != nil {
		// The platform may report its own taxonomy errors directly.
		if errors.Is(err, ErrNoAssociation) || errors.Is(err, ErrWifiDisabled) || errors.Is(err, ErrPermissionDenied) {
			return model.WifiReading{CapturedAt: capturedAt}, err
		}
		return model.WifiReading{CapturedAt: capturedAt}, fmt.Errorf("%w: %v", ErrNoAssociation, err)
	}

	bssid, err := NormalizeBSSID(assoc.BSSID)
	if err != nil {
		return model.WifiReading{CapturedAt: capturedAt}, err
	}

	reading := model.WifiReading{
		BSSID:      &bssid,
		CapturedAt: capturedAt,
	}
	if ssid := strings.Trim(assoc.SSID, `"`); ssid != "" && ssid != sentinelSSID {
		reading.SSID = &ssid
	}
	if assoc.SignalDbm != 0 {
		signal := assoc.SignalDbm
		reading.SignalStrengthDbm = &signal
	}
	if assoc.LinkSpeedMbps > 0 {
		speed := assoc.LinkSpeedMbps
		reading.LinkSpeedMbps = &speed
	}
	return reading, nil
}

// NormalizeBSSID canonicalizes an access point address to lower-case
// colon-separated hex, rejecting empty, malformed, and placeholder values.
func NormalizeBSSID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == sentinelSSID {
		return "", ErrNoAssociation
	}

	hw, err := net.ParseMAC(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid bssid %q", ErrNoAssociation, raw)
	}

	bssid := strings.ToLower(hw.String())
	if _, sentinel := sentinelBSSIDs[bssid]; sentinel {
		return "", ErrNoAssociation
	}
	return bssid, nil
}
