package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/models"
)

const instrumentsCSV = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
111,1,NIFTY26SEP24500CE,NIFTY,0,2026-09-02,24500,0.05,75,CE,NFO-OPT,NFO
112,1,NIFTY26SEP24500PE,NIFTY,0,2026-09-02,24500,0.05,75,PE,NFO-OPT,NFO
113,1,NIFTY26OCT24500CE,NIFTY,0,2026-09-30,24500,0.05,75,CE,NFO-OPT,NFO
114,1,NIFTY26SEP24550CE,NIFTY,0,2026-09-02,24550,0.05,75,CE,NFO-OPT,NFO
201,2,BANKNIFTY26SEP52000CE,BANKNIFTY,0,2026-09-02,52000,0.05,35,CE,NFO-OPT,NFO
301,3,NIFTY26SEPFUT,NIFTY,0,2026-09-24,0,0.05,75,FUT,NFO-FUT,NFO
401,4,NIFTY26SEP24600CE,NIFTY,0,2026-09-02,notanumber,0.05,75,CE,NFO-OPT,NFO
`

func TestParseInstrumentsFiltersUnderlyingAndOptions(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)

	// BANKNIFTY, the future and the unparsable row are gone.
	assert.Equal(t, 4, cat.Len())
}

func TestParseInstrumentsSkipsTruncatedRows(t *testing.T) {
	raw := instrumentsCSV +
		"115,5\n" +
		"116,6,NIFTY26SEP24650CE,NIFTY\n"

	cat, err := ParseInstruments(raw, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 4, cat.Len(), "short rows are dropped, not indexed")
}

func TestParseInstrumentsNoContracts(t *testing.T) {
	_, err := ParseInstruments(instrumentsCSV, "FINNIFTY")
	assert.ErrorContains(t, err, "no FINNIFTY option contracts")
}

func TestParseInstrumentsMissingColumn(t *testing.T) {
	_, err := ParseInstruments("instrument_token,tradingsymbol\n111,X\n", "NIFTY")
	assert.ErrorContains(t, err, "missing column")
}

func TestNearestOptionRoundsToStrikeStep(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)
	asOf := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	ct, err := cat.NearestOption(24510, models.OptionCE, 50, asOf)
	require.NoError(t, err)
	assert.Equal(t, 24500.0, ct.Strike)
	assert.Equal(t, "NIFTY26SEP24500CE", ct.Symbol)

	ct, err = cat.NearestOption(24530, models.OptionCE, 50, asOf)
	require.NoError(t, err)
	assert.Equal(t, 24550.0, ct.Strike)

	ct, err = cat.NearestOption(24510, models.OptionPE, 50, asOf)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY26SEP24500PE", ct.Symbol)
}

func TestNearestOptionPicksEarliestExpiry(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)

	ct, err := cat.NearestOption(24500, models.OptionCE, 50, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, uint32(111), ct.Token, "weekly expiry comes before the monthly")

	// Past the weekly expiry only the monthly remains.
	ct, err = cat.NearestOption(24500, models.OptionCE, 50, time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, uint32(113), ct.Token)
}

func TestNearestOptionExpiryDayStillTradeable(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)

	ct, err := cat.NearestOption(24500, models.OptionCE, 50, time.Date(2026, 9, 2, 11, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, uint32(111), ct.Token)
}

func TestNearestOptionUsesExchangeDate(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)

	// 20:00 UTC on expiry day is already past midnight in IST, so the
	// weekly contract is no longer tradeable.
	ct, err := cat.NearestOption(24500, models.OptionCE, 50, time.Date(2026, 9, 2, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, uint32(113), ct.Token)

	// 19:00 UTC the evening before maps to 00:30 IST on expiry day.
	ct, err = cat.NearestOption(24500, models.OptionCE, 50, time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, uint32(111), ct.Token)
}

func TestNearestOptionNoContractAtStrike(t *testing.T) {
	cat, err := ParseInstruments(instrumentsCSV, "NIFTY")
	require.NoError(t, err)

	_, err = cat.NearestOption(30000, models.OptionCE, 50, time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	assert.ErrorContains(t, err, "no CE contract at strike 30000")
}
