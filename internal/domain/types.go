// Package domain defines the core types shared across candlesync: tracked
// instruments, daily candles and the status vocabulary used to reconcile them.
package domain

import (
	"strings"
	"time"
)

// Venue identifies the market an instrument is listed on.
type Venue string

const (
	VenueBinance   Venue = "BINANCE"
	VenueForex     Venue = "FOREX"
	VenueCommodity Venue = "COMMODITY"
	VenueStock     Venue = "STOCK"
	VenueIndex     Venue = "INDEX"
)

// InstrumentType refines the venue (spot vs. futures for crypto).
type InstrumentType string

const (
	TypeSpot      InstrumentType = "SPOT"
	TypeFutures   InstrumentType = "FUTURES"
	TypeCommodity InstrumentType = "COMMODITY"
	TypeStock     InstrumentType = "STOCK"
	TypeIndex     InstrumentType = "INDEX"
)

// Class groups instruments that share a cutoff rule, an adapter chain and a
// has_data policy.
type Class string

const (
	ClassCryptoSpot    Class = "crypto_spot"
	ClassCryptoFutures Class = "crypto_futures"
	ClassForex         Class = "forex"
	ClassCommodity     Class = "commodity"
	ClassStock         Class = "stock"
	ClassIndex         Class = "index"
)

// Classes lists every class in a stable order.
var Classes = []Class{
	ClassCryptoSpot, ClassCryptoFutures, ClassForex,
	ClassCommodity, ClassStock, ClassIndex,
}

// IsCrypto reports whether the class trades around the clock on a crypto venue.
func (c Class) IsCrypto() bool {
	return c == ClassCryptoSpot || c == ClassCryptoFutures
}

// HasData is the tri-state availability flag of an instrument.
type HasData int

const (
	HasDataUnknown HasData = iota
	HasDataTrue
	HasDataFalse
)

// String returns "unknown", "true" or "false".
func (h HasData) String() string {
	switch h {
	case HasDataTrue:
		return "true"
	case HasDataFalse:
		return "false"
	default:
		return "unknown"
	}
}

// IntervalDaily is the only candle interval the engine collects.
const IntervalDaily = "1d"

// Instrument is a tradable symbol tracked by the registry.
type Instrument struct {
	Symbol     string
	Venue      Venue
	Type       InstrumentType
	Country    string
	Active     bool
	HasData    HasData
	MissStreak int
	UpdatedAt  time.Time
}

// Class derives the instrument class from venue and type.
func (i Instrument) Class() Class {
	switch i.Venue {
	case VenueBinance:
		if i.Type == TypeFutures {
			return ClassCryptoFutures
		}
		return ClassCryptoSpot
	case VenueForex:
		return ClassForex
	case VenueCommodity:
		return ClassCommodity
	case VenueIndex:
		return ClassIndex
	case VenueStock:
		return ClassStock
	}
	switch i.Type {
	case TypeFutures:
		return ClassCryptoFutures
	case TypeCommodity:
		return ClassCommodity
	case TypeIndex:
		return ClassIndex
	}
	return ClassStock
}

// Base returns the part of the symbol before the slash, or the whole symbol.
func (i Instrument) Base() string {
	if base, _, ok := strings.Cut(i.Symbol, "/"); ok {
		return base
	}
	return i.Symbol
}

// QuoteCurrency returns the currency the instrument's prices are quoted in.
// Pairs carry it after the slash; other instruments inherit it from their
// listing country. Commodities without a country are quoted in USD.
func (i Instrument) QuoteCurrency() string {
	if _, quote, ok := strings.Cut(i.Symbol, "/"); ok {
		return strings.ToUpper(quote)
	}
	if cur, ok := CountryCurrency(i.Country); ok {
		return cur
	}
	return "USD"
}

var countryCurrencies = map[string]string{
	"usa":            "USD",
	"united states":  "USD",
	"us":             "USD",
	"turkey":         "TRY",
	"türkiye":        "TRY",
	"japan":          "JPY",
	"uk":             "GBP",
	"united kingdom": "GBP",
	"europe":         "EUR",
	"euro zone":      "EUR",
	"germany":        "EUR",
	"france":         "EUR",
	"italy":          "EUR",
	"spain":          "EUR",
	"netherlands":    "EUR",
	"switzerland":    "CHF",
	"canada":         "CAD",
	"australia":      "AUD",
	"china":          "CNY",
	"hong kong":      "HKD",
	"india":          "INR",
	"south korea":    "KRW",
	"brazil":         "BRL",
}

// CountryCurrency maps a listing country to its currency code.
func CountryCurrency(country string) (string, bool) {
	cur, ok := countryCurrencies[strings.ToLower(strings.TrimSpace(country))]
	return cur, ok
}

// Candle is one daily OHLCV observation. At most one candle exists per
// (symbol, interval, date) and it is never rewritten once stored.
type Candle struct {
	Symbol   string
	Interval string
	Date     time.Time // UTC midnight
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	CloseUSD float64
	Source   string
	Venue    Venue
	Type     InstrumentType
	Country  string
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the canonical textual form of a candle date.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of UTC days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t's UTC day falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Days returns the number of calendar days in the range.
func (r DateRange) Days() int {
	return int(Day(r.End).Sub(Day(r.Start)).Hours()/24) + 1
}

// String formats the range as "YYYY-MM-DD..YYYY-MM-DD".
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}
