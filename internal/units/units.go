// Package units canonicalizes unit spellings and converts quantities within a
// measurement family.
package units

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Unit is a canonical unit token.
type Unit string

// Family groups units that convert linearly into each other.
type Family string

const (
	FamilyMass     Family = "mass"
	FamilyVolume   Family = "volume"
	FamilyDiscrete Family = "discrete"
)

// Canonical mass units.
const (
	Milligram Unit = "mg"
	Gram      Unit = "g"
	Kilogram  Unit = "kg"
	Ton       Unit = "ton"
	Pound     Unit = "lb"
	Ounce     Unit = "oz"
)

// Canonical volume units.
const (
	Milliliter Unit = "ml"
	Liter      Unit = "lt"
	CubicMeter Unit = "m3"
	Gallon     Unit = "gal"
)

// Canonical discrete units. Each one is only compatible with itself.
const (
	Piece  Unit = "pcs"
	Box    Unit = "box"
	Bag    Unit = "bag"
	Pack   Unit = "pack"
	Bottle Unit = "bottle"
	Can    Unit = "can"
	Dozen  Unit = "dozen"
)

type unitDef struct {
	family Family
	// factor converts one unit into the family base (g for mass, ml for volume).
	factor float64
}

var unitTable = map[Unit]unitDef{
	Milligram: {family: FamilyMass, factor: 0.001},
	Gram:      {family: FamilyMass, factor: 1},
	Kilogram:  {family: FamilyMass, factor: 1000},
	Ton:       {family: FamilyMass, factor: 1_000_000},
	Pound:     {family: FamilyMass, factor: 453.59237},
	Ounce:     {family: FamilyMass, factor: 28.349523125},

	Milliliter: {family: FamilyVolume, factor: 1},
	Liter:      {family: FamilyVolume, factor: 1000},
	CubicMeter: {family: FamilyVolume, factor: 1_000_000},
	Gallon:     {family: FamilyVolume, factor: 3785.411784},
}

var synonyms = map[string]Unit{
	"mg": Milligram, "mgs": Milligram, "miligramo": Milligram, "miligramos": Milligram,
	"milligram": Milligram, "milligrams": Milligram,

	"g": Gram, "gr": Gram, "grs": Gram, "grm": Gram, "gramo": Gram, "gramos": Gram,
	"gram": Gram, "grams": Gram, "gramme": Gram, "grammes": Gram,

	"kg": Kilogram, "kgs": Kilogram, "kilo": Kilogram, "kilos": Kilogram,
	"kilogramo": Kilogram, "kilogramos": Kilogram, "kilogram": Kilogram, "kilograms": Kilogram,

	"ton": Ton, "tons": Ton, "t": Ton, "tn": Ton, "tonne": Ton, "tonnes": Ton,
	"tonelada": Ton, "toneladas": Ton,

	"lb": Pound, "lbs": Pound, "libra": Pound, "libras": Pound, "pound": Pound, "pounds": Pound,

	"oz": Ounce, "onza": Ounce, "onzas": Ounce, "ounce": Ounce, "ounces": Ounce,

	"ml": Milliliter, "mls": Milliliter, "cc": Milliliter, "mililitro": Milliliter,
	"mililitros": Milliliter, "milliliter": Milliliter, "milliliters": Milliliter,
	"millilitre": Milliliter, "millilitres": Milliliter,

	"lt": Liter, "l": Liter, "lts": Liter, "ltr": Liter, "ltrs": Liter, "litro": Liter,
	"litros": Liter, "liter": Liter, "liters": Liter, "litre": Liter, "litres": Liter,

	"m3": CubicMeter, "metro cubico": CubicMeter, "metros cubicos": CubicMeter,
	"cubic meter": CubicMeter, "cubic meters": CubicMeter, "cubic metre": CubicMeter,

	"gal": Gallon, "gals": Gallon, "galon": Gallon, "galones": Gallon,
	"gallon": Gallon, "gallons": Gallon,

	"pcs": Piece, "pc": Piece, "pz": Piece, "pza": Piece, "pzas": Piece, "pieza": Piece,
	"piezas": Piece, "piece": Piece, "pieces": Piece, "u": Piece, "un": Piece, "und": Piece,
	"unidad": Piece, "unidades": Piece, "unit": Piece, "units": Piece, "ea": Piece, "each": Piece,

	"box": Box, "boxes": Box, "caja": Box, "cajas": Box,
	"bag": Bag, "bags": Bag, "bolsa": Bag, "bolsas": Bag, "saco": Bag, "sacos": Bag, "sack": Bag, "sacks": Bag,
	"pack": Pack, "packs": Pack, "paquete": Pack, "paquetes": Pack, "package": Pack, "packages": Pack, "pkg": Pack,
	"bottle": Bottle, "bottles": Bottle, "botella": Bottle, "botellas": Bottle,
	"can": Can, "cans": Can, "lata": Can, "latas": Can,
	"dozen": Dozen, "dz": Dozen, "doz": Dozen, "docena": Dozen, "docenas": Dozen,
}

var folder = cases.Fold()

// Normalize maps a free-text unit token to its canonical form. Unknown tokens
// are returned trimmed and case-folded.
func Normalize(raw string) Unit {
	token := fold(raw)
	if u, ok := synonyms[token]; ok {
		return u
	}
	if trimmed := strings.TrimSuffix(token, "."); trimmed != token {
		if u, ok := synonyms[trimmed]; ok {
			return u
		}
	}
	return Unit(token)
}

func fold(raw string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, raw)
	if err != nil {
		stripped = raw
	}
	return strings.Join(strings.Fields(folder.String(stripped)), " ")
}

// FamilyOf returns the family of a unit; unknown units are discrete.
func FamilyOf(u Unit) Family {
	if def, ok := unitTable[Normalize(string(u))]; ok {
		return def.family
	}
	return FamilyDiscrete
}

// IsMeasure reports whether u belongs to the mass or volume family.
func IsMeasure(u Unit) bool {
	f := FamilyOf(u)
	return f == FamilyMass || f == FamilyVolume
}

// AreCompatible reports whether a and b can be converted into each other.
func AreCompatible(a, b Unit) bool {
	ca, cb := Normalize(string(a)), Normalize(string(b))
	if ca == cb {
		return true
	}
	da, okA := unitTable[ca]
	db, okB := unitTable[cb]
	return okA && okB && da.family == db.family
}

// Convert expresses quantity given in from as the equivalent amount of to.
func Convert(quantity float64, from, to Unit) (float64, error) {
	cf, ct := Normalize(string(from)), Normalize(string(to))
	if cf == ct {
		return quantity, nil
	}
	df, okF := unitTable[cf]
	dt, okT := unitTable[ct]
	if !okF || !okT || df.family != dt.family {
		return 0, &shared.IncompatibleUnitsError{From: string(cf), To: string(ct)}
	}
	return quantity * df.factor / dt.factor, nil
}
