package model

import "time"

// WifiReading is a single sample of the device's wireless association.
// Produced fresh on every poll; superseded, never updated.
type WifiReading struct {
	BSSID             *string   `json:"bssid"`
	SSID              *string   `json:"ssid"`
	SignalStrengthDbm *int      `json:"signalStrengthDbm"`
	LinkSpeedMbps     *int      `json:"linkSpeedMbps"`
	CapturedAt        time.Time `json:"capturedAt"`
}
