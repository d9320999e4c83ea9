package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromMap(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]int
		want    Load
		wantErr bool
	}{
		{name: "labels", in: map[string]int{"20kg": 2, "50kg": 1}, want: Load{Size20kg: 2, Size50kg: 1}},
		{name: "bare numbers", in: map[string]int{"4": 3}, want: Load{Size4kg: 3}},
		{name: "unknown size", in: map[string]int{"12kg": 1}, wantErr: true},
		{name: "negative count", in: map[string]int{"20kg": -1}, wantErr: true},
		{name: "empty", in: map[string]int{}, want: Load{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadFromMap(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoadFits(t *testing.T) {
	capacity := Load{Size4kg: 2, Size20kg: 3}
	require.True(t, Load{Size20kg: 3}.Fits(capacity))
	require.True(t, Load{}.Fits(capacity))
	require.False(t, Load{Size20kg: 4}.Fits(capacity))
	require.False(t, Load{Size50kg: 1}.Fits(capacity))
}

func TestLoadRoundTrip(t *testing.T) {
	l := Load{Size10kg: 1, Size16kg: 4}
	back, err := LoadFromMap(l.ToMap())
	require.NoError(t, err)
	require.Equal(t, l, back)
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	require.Equal(t, Minutes(570), m)
	require.Equal(t, "09:30", m.Clock())

	_, err = ParseClock("25:61")
	require.Error(t, err)
	_, err = ParseClock("garbage")
	require.Error(t, err)
}

func TestWindowUnion(t *testing.T) {
	a := Window{Open: 480, Close: 600}
	b := Window{Open: 540, Close: 720}
	u := a.Union(b)
	require.Equal(t, Window{Open: 480, Close: 720}, u)
	require.True(t, u.Contains(480))
	require.True(t, u.Contains(720))
	require.False(t, u.Contains(721))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	require.Len(t, string(a), 32)
	require.NotEqual(t, a, b)
}
