package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"candlesync/internal/domain"
)

// seedFile is the instruments file layout:
//
//	instruments:
//	  - symbol: EUR/USD
//	    venue: FOREX
//	  - symbol: BTC/USDT
//	    venue: BINANCE
//	    type: FUTURES
type seedFile struct {
	Instruments []struct {
		Symbol  string `yaml:"symbol"`
		Venue   string `yaml:"venue"`
		Type    string `yaml:"type"`
		Country string `yaml:"country"`
		Active  *bool  `yaml:"active"`
	} `yaml:"instruments"`
}

// LoadInstruments reads instrument definitions from a YAML file. Active
// defaults to true. Crypto venues default to the SPOT type and every other
// venue to the type of the same name.
func LoadInstruments(path string) ([]domain.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	out := make([]domain.Instrument, 0, len(f.Instruments))
	for i, e := range f.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
		venue := domain.Venue(strings.ToUpper(strings.TrimSpace(e.Venue)))
		if sym == "" || venue == "" {
			return nil, fmt.Errorf("%s: instrument %d: symbol and venue are required", path, i+1)
		}
		typ := domain.InstrumentType(strings.ToUpper(strings.TrimSpace(e.Type)))
		if typ == "" {
			typ = defaultType(venue)
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		out = append(out, domain.Instrument{
			Symbol:  sym,
			Venue:   venue,
			Type:    typ,
			Country: e.Country,
			Active:  active,
		})
	}
	return out, nil
}

func defaultType(v domain.Venue) domain.InstrumentType {
	switch v {
	case domain.VenueBinance:
		return domain.TypeSpot
	case domain.VenueCommodity:
		return domain.TypeCommodity
	case domain.VenueIndex:
		return domain.TypeIndex
	case domain.VenueStock:
		return domain.TypeStock
	}
	return ""
}
