// Package ups polls a NUT server for one UPS unit, detects power events and
// publishes the resulting snapshots.
package ups

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Variable names read from upsd.
const (
	VarStatus        = "ups.status"
	VarBatteryCharge = "battery.charge"
)

// StatusOffline is the synthetic status published while upsd is unreachable
// or has no fresh data.
const StatusOffline = "OFFLINE"

// Status tokens.
const (
	FlagOnBattery  = "OB"
	FlagOnLine     = "OL"
	FlagLowBattery = "LB"
)

// Snapshot is the full variable set of one poll. An empty snapshot is valid
// and means no status is available.
type Snapshot map[string]string

// OfflineSnapshot returns the synthetic {ups.status: OFFLINE} snapshot.
func OfflineSnapshot() Snapshot {
	return Snapshot{VarStatus: StatusOffline}
}

// Status returns ups.status and whether it was present.
func (s Snapshot) Status() (string, bool) {
	v, ok := s[VarStatus]
	return v, ok
}

// Flags splits ups.status into its whitespace-separated tokens.
func (s Snapshot) Flags() StatusFlags {
	return ParseFlags(s[VarStatus])
}

// OnBattery reports whether ups.status carries the whole token OB.
func (s Snapshot) OnBattery() bool {
	return s.Flags().Has(FlagOnBattery)
}

// Charge parses battery.charge. ok is false when the variable is absent.
func (s Snapshot) Charge() (charge float64, ok bool, err error) {
	raw, present := s[VarBatteryCharge]
	if !present {
		return 0, false, nil
	}
	charge, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, true, fmt.Errorf("parse %s %q: %w", VarBatteryCharge, raw, err)
	}
	return charge, true, nil
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// StatusFlags is the token set of a ups.status value.
type StatusFlags map[string]struct{}

// ParseFlags splits status on whitespace. An empty value yields an empty set.
func ParseFlags(status string) StatusFlags {
	fields := strings.Fields(status)
	flags := make(StatusFlags, len(fields))
	for _, f := range fields {
		flags[f] = struct{}{}
	}
	return flags
}

// Has reports whether token is present as a whole token.
func (f StatusFlags) Has(token string) bool {
	_, ok := f[token]
	return ok
}

// State is the last-known snapshot. The monitor is the only writer.
type State struct {
	mu   sync.RWMutex
	last Snapshot
}

// Latest returns a copy of the last-known snapshot, or nil before the first
// successful poll.
func (s *State) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Clone()
}

func (s *State) store(snap Snapshot) {
	s.mu.Lock()
	s.last = snap.Clone()
	s.mu.Unlock()
}

// statusChanged compares ups.status in presence and value with the
// last-known snapshot.
func (s *State) statusChanged(snap Snapshot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev, hadPrev := s.last.Status()
	cur, hasCur := snap.Status()
	return hadPrev != hasCur || prev != cur
}
