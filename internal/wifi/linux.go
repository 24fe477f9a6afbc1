package wifi

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// LinuxPlatform implements Platform on top of the iw(8) userspace tool.
// Kiosk deployments of the agent run on Linux thin clients; Android devices
// talk to the same Reader through their own Platform binding.
type LinuxPlatform struct {
	Interface string // e.g. "wlan0"
}

var (
	iwBSSIDRe  = regexp.MustCompile(`(?m)^Connected to ([0-9a-fA-F:]{17})`)
	iwSSIDRe   = regexp.MustCompile(`(?m)^\s*SSID: (.+)$`)
	iwSignalRe = regexp.MustCompile(`(?m)^\s*signal: (-?\d+) dBm`)
	iwBitrate  = regexp.MustCompile(`(?m)^\s*tx bitrate: ([\d.]+) MBit/s`)
)

// State checks that the wireless interface exists and is up. Location
// permission is an Android concern; on Linux access to iw output stands in
// for it, so permission follows command accessibility.
func (p *LinuxPlatform) State(ctx context.Context) (State, error) {
	iface := p.iface()
	operstate, err := os.ReadFile("/sys/class/net/" + iface + "/operstate")
	if err != nil {
		return State{}, fmt.Errorf("interface %s: %w", iface, err)
	}
	enabled := strings.TrimSpace(string(operstate)) != "down"
	return State{WifiEnabled: enabled, LocationPermission: true}, nil
}

// Association parses `iw dev <iface> link` output into a raw association.
func (p *LinuxPlatform) Association(ctx context.Context) (Association, error) {
	out, err := exec.CommandContext(ctx, "iw", "dev", p.iface(), "link").Output()
	if err != nil {
		return Association{}, fmt.Errorf("%w: iw: %v", ErrCapabilityUnavailable, err)
	}

	text := string(out)
	if strings.Contains(text, "Not connected") {
		return Association{}, ErrNoAssociation
	}

	m := iwBSSIDRe.FindStringSubmatch(text)
	if m == nil {
		return Association{}, ErrNoAssociation
	}

	assoc := Association{BSSID: m[1]}
	if sm := iwSSIDRe.FindStringSubmatch(text); sm != nil {
		assoc.SSID = strings.TrimSpace(sm[1])
	}
	if sm := iwSignalRe.FindStringSubmatch(text); sm != nil {
		if v, err := strconv.Atoi(sm[1]); err == nil {
			assoc.SignalDbm = v
		}
	}
	if sm := iwBitrate.FindStringSubmatch(text); sm != nil {
		if v, err := strconv.ParseFloat(sm[1], 64); err == nil {
			assoc.LinkSpeedMbps = int(v)
		}
	}
	return assoc, nil
}

func (p *LinuxPlatform) iface() string {
	if p.Interface != "" {
		return p.Interface
	}
	return "wlan0"
}
