package types

import (
	"time"
	// --tz must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
)

const (
	AppName     = "clickhouse-logcontext"
	HomeDirName = ".clickhouse-logcontext"
)

type CLI struct {
	ConfigPath string
	LogPath    string
	LogLevel   string
	ConnectTo  string
	Source     string
	Pprof      bool
	PprofPath  string
	Show       ShowParams
}

// ShowParams are the flags of the show command
type ShowParams struct {
	At       string
	ID       string
	Order    string
	LoadMore int
	Plain    bool
	ShowSQL  bool
	Timezone string
}

// ParseAt parses the focal timestamp in any format dateparse understands.
// Bare numbers are taken as unix time; dateparse picks the unit from the length.
func (p ShowParams) ParseAt() (time.Time, error) {
	if p.At == "" {
		return time.Time{}, errors.New("--at is required")
	}
	loc, err := p.Location()
	if err != nil {
		return time.Time{}, err
	}
	at, err := dateparse.ParseIn(p.At, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "can't parse --at %q", p.At)
	}
	return at, nil
}

// Location returns the --tz zone, the local one when unset
func (p ShowParams) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown timezone %q", p.Timezone)
	}
	return loc, nil
}
