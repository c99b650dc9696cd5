// Package registry mirrors the scanner's live device map into a SQLite
// database for diagnostics. It is never consulted to reconstruct
// runtime state: on restart the scanner rebuilds everything from fresh
// SSDP traffic, exactly as spec.md requires. The registry exists so an
// operator (or cmd/upnpctl) can inspect device history after the fact.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/wysentanu/upnpcore/internal/types"
)

// Registry is a diagnostic snapshot store, backed by SQLite via
// modernc.org/sqlite (pure Go, no cgo, matching the teacher's choice
// for its movie library database).
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
CREATE TABLE IF NOT EXISTS device_sightings (
	udn TEXT PRIMARY KEY,
	friendly_name TEXT NOT NULL,
	device_type TEXT NOT NULL,
	location TEXT NOT NULL,
	first_seen_unix INTEGER NOT NULL,
	last_seen_unix INTEGER NOT NULL,
	last_expiry_unix INTEGER NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// RecordSighting upserts a diagnostic row for dev, bumping last_seen
// without disturbing first_seen.
func (r *Registry) RecordSighting(dev *types.Device) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
INSERT INTO device_sightings (udn, friendly_name, device_type, location, first_seen_unix, last_seen_unix, last_expiry_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(udn) DO UPDATE SET
	friendly_name = excluded.friendly_name,
	device_type = excluded.device_type,
	location = excluded.location,
	last_seen_unix = excluded.last_seen_unix,
	last_expiry_unix = excluded.last_expiry_unix
`,
		dev.Udn, dev.FriendlyName, types.FormatDeviceURN(dev.Type), dev.Location,
		now, now, dev.TimeoutTime.Unix())
	if err != nil {
		return fmt.Errorf("registry: record sighting: %w", err)
	}
	return nil
}

// RecordDeparture updates last_seen for a device that has byebye'd or
// expired, without deleting its history row.
func (r *Registry) RecordDeparture(udn string) error {
	_, err := r.db.Exec(`UPDATE device_sightings SET last_seen_unix = ? WHERE udn = ?`,
		time.Now().Unix(), udn)
	if err != nil {
		return fmt.Errorf("registry: record departure: %w", err)
	}
	return nil
}

// Sighting is one diagnostic row, with human-readable relative
// timestamps for display by cmd/upnpctl's status command.
type Sighting struct {
	Udn          string
	FriendlyName string
	DeviceType   string
	Location     string
	FirstSeen    time.Time
	LastSeen     time.Time
	FirstSeenAgo string
	LastSeenAgo  string
}

// All returns every known sighting, most recently seen first.
func (r *Registry) All() ([]Sighting, error) {
	rows, err := r.db.Query(`
SELECT udn, friendly_name, device_type, location, first_seen_unix, last_seen_unix
FROM device_sightings ORDER BY last_seen_unix DESC`)
	if err != nil {
		return nil, fmt.Errorf("registry: query: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	now := time.Now()
	for rows.Next() {
		var s Sighting
		var firstUnix, lastUnix int64
		if err := rows.Scan(&s.Udn, &s.FriendlyName, &s.DeviceType, &s.Location, &firstUnix, &lastUnix); err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		s.FirstSeen = time.Unix(firstUnix, 0)
		s.LastSeen = time.Unix(lastUnix, 0)
		s.FirstSeenAgo = humanize.RelTime(s.FirstSeen, now, "ago", "from now")
		s.LastSeenAgo = humanize.RelTime(s.LastSeen, now, "ago", "from now")
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
