// Package catalog provides the instrument reference catalog.
package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// Catalog resolves (symbol, exchange) to instrument reference data:
// lot size, tick size, expiry. It is seeded from a broker instrument dump
// or directly in tests.
type Catalog struct {
	mu          sync.RWMutex
	instruments map[string]models.Instrument
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		instruments: make(map[string]models.Instrument),
	}
}

func key(symbol string, exchange models.Exchange) string {
	return string(exchange) + ":" + symbol
}

// Add inserts or replaces an instrument. Lot size defaults to 1 and the
// instrument type is derived from the symbol when unset.
func (c *Catalog) Add(instr models.Instrument) {
	if instr.LotSize <= 0 {
		instr.LotSize = 1
	}
	if instr.InstrType == "" {
		instr.InstrType = ClassifySymbol(instr.Symbol)
	}
	c.mu.Lock()
	c.instruments[key(instr.Symbol, instr.Exchange)] = instr
	c.mu.Unlock()
}

// Load replaces the catalog contents with an instrument dump.
func (c *Catalog) Load(instruments []models.Instrument) {
	fresh := make(map[string]models.Instrument, len(instruments))
	for _, instr := range instruments {
		if instr.LotSize <= 0 {
			instr.LotSize = 1
		}
		if instr.InstrType == "" {
			instr.InstrType = ClassifySymbol(instr.Symbol)
		}
		fresh[key(instr.Symbol, instr.Exchange)] = instr
	}
	c.mu.Lock()
	c.instruments = fresh
	c.mu.Unlock()
}

// Resolve returns the instrument for (symbol, exchange).
func (c *Catalog) Resolve(symbol string, exchange models.Exchange) (models.Instrument, error) {
	c.mu.RLock()
	instr, ok := c.instruments[key(symbol, exchange)]
	c.mu.RUnlock()
	if !ok {
		return models.Instrument{}, fmt.Errorf("%w: %s:%s", errors.ErrSymbolNotFound, exchange, symbol)
	}
	return instr, nil
}

// Size returns the number of instruments in the catalog.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}

// Expiry returns the expiry date for an instrument. The catalog entry
// from the exchange dump wins when present, since weekly contracts
// cannot be dated from the tradingsymbol alone; parsing the symbol is
// the fallback for contracts the dump has not covered. Equity symbols
// have no expiry and return ok=false.
func (c *Catalog) Expiry(symbol string, exchange models.Exchange) (time.Time, bool) {
	c.mu.RLock()
	instr, found := c.instruments[key(symbol, exchange)]
	c.mu.RUnlock()
	if found && !instr.Expiry.IsZero() {
		return instr.Expiry, true
	}
	return ParseExpiry(symbol)
}

// ClassifySymbol derives the instrument type from a tradingsymbol.
func ClassifySymbol(symbol string) models.InstrumentType {
	switch {
	case strings.HasSuffix(symbol, "FUT"):
		return models.InstrFuture
	case optionRe.MatchString(symbol):
		if strings.HasSuffix(symbol, "CE") {
			return models.InstrCall
		}
		return models.InstrPut
	default:
		return models.InstrEquity
	}
}

// Monthly contract symbols as used on NFO:
//   NIFTY24DECFUT, RELIANCE24DECFUT
//   NIFTY24DEC21000CE, BANKNIFTY24DEC48500.50PE
var (
	futureRe = regexp.MustCompile(`^([A-Z][A-Z0-9&-]*?)(\d{2})([A-Z]{3})FUT$`)
	optionRe = regexp.MustCompile(`^([A-Z][A-Z0-9&-]*?)(\d{2})([A-Z]{3})(\d+(?:\.\d+)?)(CE|PE)$`)
)

var monthCodes = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseExpiry extracts the expiry date from a monthly contract
// tradingsymbol. Expiry is the last Thursday of the contract month.
func ParseExpiry(symbol string) (time.Time, bool) {
	var yy, mon string
	if m := futureRe.FindStringSubmatch(symbol); m != nil {
		yy, mon = m[2], m[3]
	} else if m := optionRe.FindStringSubmatch(symbol); m != nil {
		yy, mon = m[2], m[3]
	} else {
		return time.Time{}, false
	}

	month, ok := monthCodes[mon]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(yy)
	if err != nil {
		return time.Time{}, false
	}
	return utils.LastThursday(2000+year, month), true
}

// ParseStrike extracts the strike price from an option tradingsymbol.
func ParseStrike(symbol string) (float64, bool) {
	m := optionRe.FindStringSubmatch(symbol)
	if m == nil {
		return 0, false
	}
	strike, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return 0, false
	}
	return strike, true
}
