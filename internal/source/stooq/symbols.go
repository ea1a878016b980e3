package stooq

import (
	"strings"

	"candlesync/internal/domain"
)

var commoditySymbols = map[string]string{
	"GOLD":        "xauusd",
	"SILVER":      "xagusd",
	"PLATINUM":    "xptusd",
	"PALLADIUM":   "xpdusd",
	"CRUDE_OIL":   "cl.f",
	"WTI":         "cl.f",
	"BRENT":       "cb.f",
	"BRENT_OIL":   "cb.f",
	"NATURAL_GAS": "ng.f",
	"HEATING_OIL": "ho.f",
	"GASOLINE":    "rb.f",
	"COPPER":      "hg.f",
	"CORN":        "zc.f",
	"WHEAT":       "zw.f",
	"SOYBEANS":    "zs.f",
	"COFFEE":      "kc.f",
	"SUGAR":       "sb.f",
	"COTTON":      "ct.f",
	"COCOA":       "cc.f",
}

var indexSymbols = map[string]string{
	"SPX":    "^spx",
	"SP500":  "^spx",
	"NDX":    "^ndx",
	"DJI":    "^dji",
	"N225":   "^nkx",
	"NIKKEI": "^nkx",
	"FTSE":   "^ukx",
	"DAX":    "^dax",
	"CAC40":  "^cac",
	"HSI":    "^hsi",
}

var countrySuffix = map[string]string{
	"usa":            ".us",
	"united states":  ".us",
	"uk":             ".uk",
	"united kingdom": ".uk",
	"germany":        ".de",
	"japan":          ".jp",
	"hong kong":      ".hk",
	"hungary":        ".hu",
}

// Symbol translates a canonical instrument into a Stooq symbol.
func Symbol(inst domain.Instrument) (string, bool) {
	switch inst.Class() {
	case domain.ClassForex:
		base, quote, ok := strings.Cut(inst.Symbol, "/")
		if !ok {
			return "", false
		}
		return strings.ToLower(base + quote), true
	case domain.ClassCommodity:
		key := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToUpper(strings.TrimSpace(inst.Symbol)))
		s, ok := commoditySymbols[key]
		return s, ok
	case domain.ClassIndex:
		s, ok := indexSymbols[strings.ToUpper(inst.Base())]
		return s, ok
	case domain.ClassStock:
		suffix, ok := countrySuffix[strings.ToLower(strings.TrimSpace(inst.Country))]
		if !ok {
			return "", false
		}
		return strings.ToLower(inst.Base()) + suffix, true
	}
	return "", false
}
