package units

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

func TestNormalizeSynonyms(t *testing.T) {
	cases := map[string]Unit{
		"kg":             Kilogram,
		"KG":             Kilogram,
		" Kilogramo ":    Kilogram,
		"kilos":          Kilogram,
		"Kg.":            Kilogram,
		"gramos":         Gram,
		"Litro":          Liter,
		"L":              Liter,
		"m³":             CubicMeter,
		"Métros Cúbicos": CubicMeter,
		"galón":          Gallon,
		"Unidades":       Piece,
		"CAJA":           Box,
	}
	for raw, want := range cases {
		require.Equal(t, want, Normalize(raw), raw)
	}
}

func TestNormalizeUnknownPassesThrough(t *testing.T) {
	require.Equal(t, Unit("bunch"), Normalize("  Bunch "))
	require.Equal(t, FamilyDiscrete, FamilyOf("bunch"))
	require.True(t, AreCompatible("bunch", "BUNCH"))
	require.False(t, AreCompatible("bunch", Piece))
}

func TestAreCompatible(t *testing.T) {
	require.True(t, AreCompatible(Kilogram, "oz"))
	require.True(t, AreCompatible("ml", "gal"))
	require.False(t, AreCompatible(Kilogram, Liter))
	require.False(t, AreCompatible(Piece, Box))
	require.True(t, AreCompatible(Box, "cajas"))
}

func TestConvert(t *testing.T) {
	got, err := Convert(10, Kilogram, Gram)
	require.NoError(t, err)
	require.InDelta(t, 10000, got, 1e-9)

	got, err = Convert(2, Liter, Milliliter)
	require.NoError(t, err)
	require.InDelta(t, 2000, got, 1e-9)

	got, err = Convert(1, Pound, Ounce)
	require.NoError(t, err)
	require.InDelta(t, 16, got, 1e-9)

	got, err = Convert(3, Box, "caja")
	require.NoError(t, err)
	require.Equal(t, 3.0, got)
}

func TestConvertIncompatible(t *testing.T) {
	_, err := Convert(5, "m", Kilogram)
	require.ErrorIs(t, err, shared.ErrIncompatibleUnits)

	var incompatible *shared.IncompatibleUnitsError
	require.ErrorAs(t, err, &incompatible)
	require.Equal(t, "m", incompatible.From)
	require.Equal(t, "kg", incompatible.To)

	_, err = Convert(1, Kilogram, Liter)
	require.ErrorIs(t, err, shared.ErrIncompatibleUnits)
}

func TestConvertRoundTrip(t *testing.T) {
	pairs := [][2]Unit{
		{Kilogram, Gram}, {Gram, Ounce}, {Pound, Milligram}, {Ton, Pound},
		{Liter, Gallon}, {CubicMeter, Milliliter}, {Gallon, Liter},
	}
	for _, q := range []float64{0.001, 1, 3.75, 1234.5} {
		for _, p := range pairs {
			there, err := Convert(q, p[0], p[1])
			require.NoError(t, err)
			back, err := Convert(there, p[1], p[0])
			require.NoError(t, err)
			require.InEpsilon(t, q, back, 1e-12, "%g %s→%s", q, p[0], p[1])
		}
	}
}
