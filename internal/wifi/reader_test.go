package wifi

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform is a scriptable Platform implementation.
type fakePlatform struct {
	state    State
	stateErr error
	assoc    Association
	assocErr error
}

func (f *fakePlatform) State(ctx context.Context) (State, error) {
	return f.state, f.stateErr
}

func (f *fakePlatform) Association(ctx context.Context) (Association, error) {
	return f.assoc, f.assocErr
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestNormalizeBSSID(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
		wantErr  bool
	}{
		{name: "already canonical", raw: "aa:bb:cc:dd:ee:ff", expected: "aa:bb:cc:dd:ee:ff"},
		{name: "upper case folds down", raw: "AA:BB:CC:DD:EE:FF", expected: "aa:bb:cc:dd:ee:ff"},
		{name: "dash separators accepted", raw: "aa-bb-cc-dd-ee-ff", expected: "aa:bb:cc:dd:ee:ff"},
		{name: "surrounding whitespace trimmed", raw: "  aa:bb:cc:dd:ee:ff\n", expected: "aa:bb:cc:dd:ee:ff"},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "not-a-mac", wantErr: true},
		{name: "truncated", raw: "aa:bb:cc", wantErr: true},
		{name: "android permission placeholder", raw: "02:00:00:00:00:00", wantErr: true},
		{name: "all zeros placeholder", raw: "00:00:00:00:00:00", wantErr: true},
		{name: "placeholder in upper case", raw: "02:00:00:00:00:00", wantErr: true},
		{name: "unknown ssid marker", raw: "<unknown ssid>", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeBSSID(tc.raw)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoAssociation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestReader_ReadCurrent_ErrorTaxonomy(t *testing.T) {
	enabled := State{WifiEnabled: true, LocationPermission: true}

	testCases := []struct {
		name     string
		platform *fakePlatform
		wantErr  error
	}{
		{
			name:     "wifi disabled",
			platform: &fakePlatform{state: State{WifiEnabled: false, LocationPermission: true}},
			wantErr:  ErrWifiDisabled,
		},
		{
			name:     "location permission missing",
			platform: &fakePlatform{state: State{WifiEnabled: true, LocationPermission: false}},
			wantErr:  ErrPermissionDenied,
		},
		{
			name:     "state query fails",
			platform: &fakePlatform{stateErr: errors.New("binder died")},
			wantErr:  ErrCapabilityUnavailable,
		},
		{
			name:     "platform reports no association",
			platform: &fakePlatform{state: enabled, assocErr: ErrNoAssociation},
			wantErr:  ErrNoAssociation,
		},
		{
			name:     "opaque association failure maps to no association",
			platform: &fakePlatform{state: enabled, assocErr: errors.New("scan in progress")},
			wantErr:  ErrNoAssociation,
		},
		{
			name:     "placeholder bssid rejected",
			platform: &fakePlatform{state: enabled, assoc: Association{BSSID: "02:00:00:00:00:00"}},
			wantErr:  ErrNoAssociation,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader := NewReader(tc.platform, testLogger())
			reading, err := reader.ReadCurrent(context.Background())
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, reading.BSSID)
			assert.False(t, reading.CapturedAt.IsZero(), "failed reads still carry a capture time")
		})
	}
}

func TestReader_ReadCurrent_NormalizesReading(t *testing.T) {
	platform := &fakePlatform{
		state: State{WifiEnabled: true, LocationPermission: true},
		assoc: Association{
			BSSID:         "AA:BB:CC:DD:EE:FF",
			SSID:          `"Campus-A2"`,
			SignalDbm:     -61,
			LinkSpeedMbps: 433,
		},
	}
	reader := NewReader(platform, testLogger())

	reading, err := reader.ReadCurrent(context.Background())
	require.NoError(t, err)

	require.NotNil(t, reading.BSSID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", *reading.BSSID)
	require.NotNil(t, reading.SSID)
	assert.Equal(t, "Campus-A2", *reading.SSID, "surrounding quotes stripped")
	require.NotNil(t, reading.SignalStrengthDbm)
	assert.Equal(t, -61, *reading.SignalStrengthDbm)
	require.NotNil(t, reading.LinkSpeedMbps)
	assert.Equal(t, 433, *reading.LinkSpeedMbps)
}

func TestReader_ReadCurrent_UnknownSSIDOmitted(t *testing.T) {
	platform := &fakePlatform{
		state: State{WifiEnabled: true, LocationPermission: true},
		assoc: Association{BSSID: "aa:bb:cc:dd:ee:ff", SSID: "<unknown ssid>"},
	}
	reader := NewReader(platform, testLogger())

	reading, err := reader.ReadCurrent(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, reading.BSSID, "a hidden SSID does not invalidate the association")
	assert.Nil(t, reading.SSID)
}

func TestReader_NilPlatform(t *testing.T) {
	reader := NewReader(nil, testLogger())
	_, err := reader.ReadCurrent(context.Background())
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)
}
