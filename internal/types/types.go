// README: Shared identifier, geo, and cylinder-load types used across modules.
package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type ID string

// NewID returns a 32-char hex identifier for entities created by the core.
func NewID() ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return ID(hex.EncodeToString(b[:]))
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CylinderSize is the fixed set of bottle sizes the fleet carries.
// Demand and capacity are always shaped by this enum, never open maps.
type CylinderSize int

const (
	Size4kg CylinderSize = iota
	Size10kg
	Size16kg
	Size20kg
	Size50kg
	NumSizes
)

var sizeLabels = [NumSizes]string{"4kg", "10kg", "16kg", "20kg", "50kg"}

func (s CylinderSize) String() string {
	if s < 0 || s >= NumSizes {
		return fmt.Sprintf("size(%d)", int(s))
	}
	return sizeLabels[s]
}

// ParseCylinderSize maps a wire label ("20kg" or "20") to its enum value.
func ParseCylinderSize(label string) (CylinderSize, error) {
	for i, l := range sizeLabels {
		if l == label || l[:len(l)-2] == label {
			return CylinderSize(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cylinder size %q", label)
}

// Load is a per-size cylinder count, used for both demand and capacity.
type Load [NumSizes]int

func (l Load) IsZero() bool {
	for _, n := range l {
		if n != 0 {
			return false
		}
	}
	return true
}

func (l Load) Total() int {
	sum := 0
	for _, n := range l {
		sum += n
	}
	return sum
}

// Add returns l + other.
func (l Load) Add(other Load) Load {
	for i := range l {
		l[i] += other[i]
	}
	return l
}

// Fits reports whether l stays within capacity for every size.
func (l Load) Fits(capacity Load) bool {
	for i := range l {
		if l[i] > capacity[i] {
			return false
		}
	}
	return true
}

// ToMap renders the load in wire form, omitting zero sizes.
func (l Load) ToMap() map[string]int {
	m := map[string]int{}
	for i, n := range l {
		if n > 0 {
			m[CylinderSize(i).String()] = n
		}
	}
	return m
}

// LoadFromMap parses wire form {"20kg": 2}. Negative counts are rejected.
func LoadFromMap(m map[string]int) (Load, error) {
	var l Load
	for label, n := range m {
		size, err := ParseCylinderSize(label)
		if err != nil {
			return Load{}, err
		}
		if n < 0 {
			return Load{}, fmt.Errorf("negative count for %s", label)
		}
		l[size] = n
	}
	return l, nil
}

// Minutes is minutes from operating-day start (00:00 local).
type Minutes int

// Window is a closed service interval in day minutes.
type Window struct {
	Open  Minutes `json:"open"`
	Close Minutes `json:"close"`
}

func (w Window) Contains(m Minutes) bool {
	return m >= w.Open && m <= w.Close
}

// Union widens w to cover other; used when welding atomic stops.
func (w Window) Union(other Window) Window {
	if other.Open < w.Open {
		w.Open = other.Open
	}
	if other.Close > w.Close {
		w.Close = other.Close
	}
	return w
}

// ParseClock parses "hh:mm" into day minutes.
func ParseClock(s string) (Minutes, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	if h < 0 || h > 47 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return Minutes(h*60 + m), nil
}

// Clock renders day minutes as "hh:mm".
func (m Minutes) Clock() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}
