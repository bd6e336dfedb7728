package anchor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	// DefaultTimezone is applied when no zone is given on the command line or in the environment.
	DefaultTimezone = "Asia/Tokyo"

	timeLayout = "20060102 150405"
)

var (
	// ErrUnknownZone is returned when the zone name is not in the tz database.
	ErrUnknownZone = errors.New("anchor: invalid timezone string")
	// ErrInvalidTimestamp is returned when the file name carries digits that are not a valid date-time.
	ErrInvalidTimestamp = errors.New("anchor: invalid datetime format in file name")
)

var fileNamePattern = regexp.MustCompile(`powerlog-(\d{8})-(\d{6})\.dat`)

// Anchor is an optional absolute start time in epoch milliseconds.
type Anchor struct {
	Millis int64
	Valid  bool
}

// None returns the absent anchor.
func None() Anchor { return Anchor{} }

// At returns an anchor at ms.
func At(ms int64) Anchor { return Anchor{Millis: ms, Valid: true} }

// OffsetMillis returns the anchor value, or 0 when absent.
func (a Anchor) OffsetMillis() int64 {
	if !a.Valid {
		return 0
	}
	return a.Millis
}

func (a Anchor) String() string {
	if !a.Valid {
		return "none"
	}
	return time.UnixMilli(a.Millis).UTC().Format(time.RFC3339)
}

// Resolver derives the start time of a log from its name and a timezone.
type Resolver interface {
	Resolve(name, zone string) (Anchor, error)
}

// FileNameResolver reads the start time embedded in logger file names
// (powerlog-YYYYMMDD-HHMMSS.dat). The pattern may appear anywhere in the name.
type FileNameResolver struct {
	pattern *regexp.Regexp
}

// NewFileNameResolver returns a resolver for logger file names.
func NewFileNameResolver() *FileNameResolver {
	return &FileNameResolver{pattern: fileNamePattern}
}

// Resolve returns the anchor for name interpreted in zone. A name without an embedded
// time yields None and no error. An unknown zone is reported even then.
func (r *FileNameResolver) Resolve(name, zone string) (Anchor, error) {
	loc, zoneErr := loadZone(zone)

	match := r.pattern.FindStringSubmatch(name)
	if match == nil || zoneErr != nil {
		return None(), zoneErr
	}

	ts, err := time.ParseInLocation(timeLayout, match[1]+" "+match[2], loc)
	if err != nil {
		return None(), fmt.Errorf("%w: %s", ErrInvalidTimestamp, name)
	}
	return At(ts.UnixMilli()), nil
}

func loadZone(zone string) (*time.Location, error) {
	// LoadLocation maps "" to UTC and "Local" to the host zone; neither is a
	// tz database name.
	if strings.TrimSpace(zone) == "" || zone == "Local" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
	}
	return loc, nil
}
