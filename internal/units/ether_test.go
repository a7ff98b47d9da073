package units

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "1.5", want: "1500000000000000000"},
		{in: "0.01", want: "10000000000000000"},
		{in: " 2.000 ", want: "2000000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEther(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseEtherRejects(t *testing.T) {
	for _, in := range []string{
		"", "abc", "-1", "0.0000000000000000001",
		"1e1000000", "1E2", "1e60", "2.5e-3",
		"1" + strings.Repeat("0", 60),
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseEther(in)
			require.True(t, errors.Is(err, domain.ErrInvalidAmount), "got %v", err)
		})
	}
}

func TestParseUnitsUint256Bound(t *testing.T) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	got, err := ParseUnits(maxUint256.String(), 0)
	require.NoError(t, err)
	require.Equal(t, maxUint256, got)

	over := new(big.Int).Add(maxUint256, big.NewInt(1))
	_, err = ParseUnits(over.String(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  *big.Int
		want string
	}{
		{wei: nil, want: "0"},
		{wei: big.NewInt(0), want: "0"},
		{wei: big.NewInt(1_500_000_000_000_000_000), want: "1.5"},
		{wei: big.NewInt(100_000_000_000_000_000), want: "0.1"},
		{wei: big.NewInt(1), want: "0.000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, FormatEther(tt.wei))
		})
	}
}
