// Package authdir caches the server-registered mapping from room to
// authorized access point and answers authorization lookups.
package authdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/internal/wifi"
)

// Lookup failure modes.
var (
	ErrRoomUnknown   = errors.New("no authorization entry for room")
	ErrNotAuthorized = errors.New("bssid not authorized for room")
)

// Room is the cached authorization entry for one classroom.
type Room struct {
	RoomNumber      string     `json:"roomNumber"`
	AuthorizedBSSID string     `json:"authorizedBssid"`
	ValidFrom       *time.Time `json:"validFrom,omitempty"`
	ValidTo         *time.Time `json:"validTo,omitempty"`
}

// Filter narrows a refresh to rooms relevant to the active student.
type Filter struct {
	Semester string
	Branch   string
}

// classroomsResponse models GET /api/classrooms.
type classroomsResponse struct {
	Success    bool `json:"success"`
	Classrooms []struct {
		RoomNumber string     `json:"roomNumber"`
		WifiBSSID  string     `json:"wifiBSSID"`
		IsActive   bool       `json:"isActive"`
		ValidFrom  *time.Time `json:"validFrom"`
		ValidTo    *time.Time `json:"validTo"`
	} `json:"classrooms"`
}

// Directory is the cached room→BSSID mapping. Refresh replaces the whole set
// atomically; lookups read a consistent snapshot.
type Directory struct {
	mu      sync.RWMutex
	rooms   map[string]Room
	fetched time.Time

	baseURL string
	headers map[string]string
	client  *http.Client
	logger  *log.Logger
}

// New creates an empty directory that refreshes from the given server.
func New(baseURL string, headers map[string]string, timeout time.Duration, logger *log.Logger) *Directory {
	return &Directory{
		rooms:   make(map[string]Room),
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "authdir"),
	}
}

// Refresh fetches the full authorized-BSSID set and replaces the cache.
// On any fetch or parse failure the previous cache is left intact.
func (d *Directory) Refresh(ctx context.Context, filter Filter) error {
	reqURL, err := url.Parse(d.baseURL + "/api/classrooms")
	if err != nil {
		return fmt.Errorf("fetch classrooms: %w", err)
	}
	q := reqURL.Query()
	if filter.Semester != "" {
		q.Set("semester", filter.Semester)
	}
	if filter.Branch != "" {
		q.Set("branch", filter.Branch)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("fetch classrooms: %w", err)
	}
	for key, value := range d.headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch classrooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch classrooms: received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fetch classrooms: read body: %w", err)
	}

	var parsed classroomsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("fetch classrooms: unmarshal: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("fetch classrooms: server reported failure")
	}

	fresh := make(map[string]Room, len(parsed.Classrooms))
	for _, c := range parsed.Classrooms {
		if !c.IsActive {
			continue
		}
		bssid, err := wifi.NormalizeBSSID(c.WifiBSSID)
		if err != nil {
			d.logger.Warn("skipping classroom with invalid bssid", "room", c.RoomNumber, "bssid", c.WifiBSSID)
			continue
		}
		fresh[strings.ToUpper(c.RoomNumber)] = Room{
			RoomNumber:      c.RoomNumber,
			AuthorizedBSSID: bssid,
			ValidFrom:       c.ValidFrom,
			ValidTo:         c.ValidTo,
		}
	}

	d.mu.Lock()
	d.rooms = fresh
	d.fetched = time.Now().UTC()
	d.mu.Unlock()

	d.logger.Info("authorization directory refreshed", "rooms", len(fresh))
	return nil
}

// Authorize reports whether bssid is the authorized access point for roomID.
// The lookup is case-insensitive on both identifiers; a room without an entry
// yields ErrRoomUnknown, a mismatch ErrNotAuthorized. The matched room's
// metadata is returned on success and on mismatch.
func (d *Directory) Authorize(roomID, bssid string) (Room, error) {
	d.mu.RLock()
	room, ok := d.rooms[strings.ToUpper(roomID)]
	d.mu.RUnlock()

	if !ok {
		return Room{}, fmt.Errorf("%w: %q", ErrRoomUnknown, roomID)
	}

	now := time.Now().UTC()
	if room.ValidFrom != nil && now.Before(*room.ValidFrom) {
		return room, fmt.Errorf("%w: entry for %q not yet valid", ErrNotAuthorized, roomID)
	}
	if room.ValidTo != nil && now.After(*room.ValidTo) {
		return room, fmt.Errorf("%w: entry for %q expired", ErrNotAuthorized, roomID)
	}

	if !strings.EqualFold(bssid, room.AuthorizedBSSID) {
		return room, fmt.Errorf("%w: %q is not %q for room %q", ErrNotAuthorized, strings.ToLower(bssid), room.AuthorizedBSSID, roomID)
	}
	return room, nil
}

// Rooms returns a copy of the cached entries for the local API.
func (d *Directory) Rooms() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	return out
}

// LastRefreshed reports when the cache was last replaced; zero if never.
func (d *Directory) LastRefreshed() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fetched
}
