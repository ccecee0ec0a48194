package broker

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"options_bot/internal/models"
)

// Catalog is the filtered NFO option chain for one underlying,
// loaded once per session.
type Catalog struct {
	contracts []models.Contract
}

// Instruments downloads the NFO instrument dump (CSV) and keeps only the
// option contracts of the given underlying.
func (c *Client) Instruments(ctx context.Context, underlying string) (*Catalog, error) {
	rb, err := c.do(ctx, http.MethodGet, "/instruments/NFO", nil, "")
	if err != nil {
		return nil, err
	}
	return ParseInstruments(string(rb), underlying)
}

// ParseInstruments parses the Kite instrument dump. Header:
// instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
func ParseInstruments(raw, underlying string) (*Catalog, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse instrument csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("instrument dump empty")
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	maxCol := 0
	for _, need := range []string{"instrument_token", "tradingsymbol", "name", "expiry", "strike", "lot_size", "instrument_type"} {
		i, ok := col[need]
		if !ok {
			return nil, fmt.Errorf("instrument dump missing column %q", need)
		}
		if i > maxCol {
			maxCol = i
		}
	}

	cat := &Catalog{}
	for _, row := range rows[1:] {
		if len(row) <= maxCol {
			continue
		}
		if row[col["name"]] != underlying {
			continue
		}
		kind := models.OptionKind(row[col["instrument_type"]])
		if kind != models.OptionCE && kind != models.OptionPE {
			continue
		}

		token, err := strconv.ParseUint(row[col["instrument_token"]], 10, 32)
		if err != nil {
			continue
		}
		strike, err := strconv.ParseFloat(row[col["strike"]], 64)
		if err != nil {
			continue
		}
		expiry, err := time.Parse("2006-01-02", row[col["expiry"]])
		if err != nil {
			continue
		}
		lot, err := strconv.Atoi(row[col["lot_size"]])
		if err != nil {
			continue
		}

		cat.contracts = append(cat.contracts, models.Contract{
			Token:   uint32(token),
			Symbol:  row[col["tradingsymbol"]],
			Strike:  strike,
			Kind:    kind,
			Expiry:  expiry,
			LotSize: lot,
		})
	}

	if len(cat.contracts) == 0 {
		return nil, fmt.Errorf("no %s option contracts in instrument dump", underlying)
	}

	sort.Slice(cat.contracts, func(i, j int) bool {
		return cat.contracts[i].Expiry.Before(cat.contracts[j].Expiry)
	})
	return cat, nil
}

// Len reports the number of contracts in the catalog.
func (c *Catalog) Len() int { return len(c.contracts) }

// marketTZ is the NSE trading timezone; expiry dates in the instrument
// dump are IST dates.
var marketTZ = time.FixedZone("IST", 330*60)

// NearestOption picks the at-the-money contract: strike = underlying price
// rounded to the nearest step, then the earliest expiry on or after asOf.
func (c *Catalog) NearestOption(underlyingPrice float64, kind models.OptionKind, step float64, asOf time.Time) (models.Contract, error) {
	atm := roundToStep(underlyingPrice, step)
	y, m, d := asOf.In(marketTZ).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	for _, ct := range c.contracts { // sorted by expiry
		if ct.Kind != kind || ct.Strike != atm {
			continue
		}
		if ct.Expiry.Before(today) {
			continue
		}
		return ct, nil
	}
	return models.Contract{}, fmt.Errorf("no %s contract at strike %.0f expiring on/after %s", kind, atm, today.Format("2006-01-02"))
}

func roundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}
