package yahoo

import (
	"strings"

	"candlesync/internal/domain"
)

var commodityTickers = map[string]string{
	"GOLD":        "GC=F",
	"SILVER":      "SI=F",
	"COPPER":      "HG=F",
	"PLATINUM":    "PL=F",
	"PALLADIUM":   "PA=F",
	"CRUDE_OIL":   "CL=F",
	"WTI":         "CL=F",
	"BRENT":       "BZ=F",
	"BRENT_OIL":   "BZ=F",
	"NATURAL_GAS": "NG=F",
	"HEATING_OIL": "HO=F",
	"GASOLINE":    "RB=F",
	"CORN":        "ZC=F",
	"WHEAT":       "ZW=F",
	"SOYBEANS":    "ZS=F",
	"COFFEE":      "KC=F",
	"SUGAR":       "SB=F",
	"COTTON":      "CT=F",
	"COCOA":       "CC=F",
}

var indexTickers = map[string]string{
	"XU100":  "XU100.IS",
	"XU030":  "XU030.IS",
	"SPX":    "^GSPC",
	"SP500":  "^GSPC",
	"NDX":    "^NDX",
	"DJI":    "^DJI",
	"N225":   "^N225",
	"NIKKEI": "^N225",
	"FTSE":   "^FTSE",
	"DAX":    "^GDAXI",
	"CAC40":  "^FCHI",
	"SX5E":   "^STOXX50E",
	"HSI":    "^HSI",
}

var countrySuffix = map[string]string{
	"usa":            "",
	"united states":  "",
	"turkey":         ".IS",
	"uk":             ".L",
	"united kingdom": ".L",
	"germany":        ".DE",
	"france":         ".PA",
	"japan":          ".T",
	"canada":         ".TO",
	"hong kong":      ".HK",
	"india":          ".NS",
	"australia":      ".AX",
}

// Ticker translates a canonical instrument into a Yahoo ticker.
func Ticker(inst domain.Instrument) (string, bool) {
	switch inst.Class() {
	case domain.ClassForex:
		base, quote, ok := strings.Cut(strings.ToUpper(inst.Symbol), "/")
		if !ok {
			return "", false
		}
		return base + quote + "=X", true
	case domain.ClassCommodity:
		key := commodityKey(inst.Symbol)
		if strings.HasSuffix(key, "=F") {
			return key, true
		}
		t, ok := commodityTickers[key]
		return t, ok
	case domain.ClassIndex:
		key := strings.ToUpper(inst.Base())
		if strings.HasPrefix(key, "^") {
			return key, true
		}
		t, ok := indexTickers[key]
		return t, ok
	case domain.ClassStock:
		suffix, ok := countrySuffix[strings.ToLower(strings.TrimSpace(inst.Country))]
		if !ok {
			return "", false
		}
		return strings.ReplaceAll(strings.ToUpper(inst.Base()), ".", "-") + suffix, true
	}
	return "", false
}

func commodityKey(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
