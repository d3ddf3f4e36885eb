package currency

import (
	"time"

	"github.com/shopspring/decimal"
)

// fallbackUSDRates is the bundled static rate table, base USD. It is used
// whenever the external rate source is unreachable, so a conversion between
// any two codes listed here never fails outright. Values are point-in-time
// snapshots and only need to be plausible, not current.
var fallbackUSDRates = map[string]float64{
	"USD": 1.0,
	"AED": 3.6725,
	"AFN": 70.05,
	"ALL": 89.85,
	"AMD": 387.2,
	"ANG": 1.79,
	"AOA": 885.5,
	"ARS": 948.5,
	"AUD": 1.4785,
	"AWG": 1.79,
	"AZN": 1.7001,
	"BAM": 1.7578,
	"BBD": 2.0,
	"BDT": 117.45,
	"BGN": 1.7576,
	"BHD": 0.376,
	"BIF": 2885.0,
	"BMD": 1.0,
	"BND": 1.3105,
	"BOB": 6.93,
	"BRL": 5.476,
	"BSD": 1.0,
	"BTN": 83.92,
	"BWP": 13.35,
	"BYN": 3.26,
	"BZD": 2.0,
	"CAD": 1.3521,
	"CDF": 2838.0,
	"CHF": 0.8468,
	"CLP": 915.4,
	"CNY": 7.1245,
	"COP": 4068.0,
	"CRC": 524.3,
	"CUP": 24.0,
	"CVE": 99.1,
	"CZK": 22.62,
	"DJF": 177.7,
	"DKK": 6.704,
	"DOP": 59.55,
	"DZD": 134.5,
	"EGP": 48.64,
	"ERN": 15.0,
	"ETB": 109.6,
	"EUR": 0.8987,
	"FJD": 2.214,
	"FKP": 0.7601,
	"FOK": 6.704,
	"GBP": 0.7601,
	"GEL": 2.701,
	"GGP": 0.7601,
	"GHS": 15.62,
	"GIP": 0.7601,
	"GMD": 70.5,
	"GNF": 8640.0,
	"GTQ": 7.74,
	"GYD": 209.2,
	"HKD": 7.7985,
	"HNL": 24.85,
	"HRK": 6.771,
	"HTG": 131.8,
	"HUF": 353.6,
	"IDR": 15485.0,
	"ILS": 3.678,
	"IMP": 0.7601,
	"INR": 83.93,
	"IQD": 1310.0,
	"IRR": 42100.0,
	"ISK": 137.9,
	"JEP": 0.7601,
	"JMD": 156.7,
	"JOD": 0.709,
	"JPY": 146.25,
	"KES": 129.2,
	"KGS": 85.3,
	"KHR": 4098.0,
	"KID": 1.4785,
	"KMF": 442.1,
	"KRW": 1336.4,
	"KWD": 0.3055,
	"KYD": 0.8333,
	"KZT": 479.3,
	"LAK": 21980.0,
	"LBP": 89500.0,
	"LKR": 299.6,
	"LRD": 195.3,
	"LSL": 17.79,
	"LYD": 4.78,
	"MAD": 9.72,
	"MDL": 17.45,
	"MGA": 4545.0,
	"MKD": 55.3,
	"MMK": 2098.0,
	"MNT": 3385.0,
	"MOP": 8.032,
	"MRU": 39.65,
	"MUR": 46.15,
	"MVR": 15.42,
	"MWK": 1736.0,
	"MXN": 19.12,
	"MYR": 4.372,
	"MZN": 63.9,
	"NAD": 17.79,
	"NGN": 1589.0,
	"NIO": 36.8,
	"NOK": 10.52,
	"NPR": 134.3,
	"NZD": 1.611,
	"OMR": 0.3845,
	"PAB": 1.0,
	"PEN": 3.745,
	"PGK": 3.89,
	"PHP": 56.35,
	"PKR": 278.5,
	"PLN": 3.855,
	"PYG": 7608.0,
	"QAR": 3.64,
	"RON": 4.472,
	"RSD": 105.2,
	"RUB": 89.6,
	"RWF": 1335.0,
	"SAR": 3.75,
	"SBD": 8.48,
	"SCR": 13.6,
	"SDG": 511.0,
	"SEK": 10.24,
	"SGD": 1.3098,
	"SHP": 0.7601,
	"SLE": 22.5,
	"SLL": 22500.0,
	"SOS": 571.0,
	"SRD": 29.2,
	"SSP": 2600.0,
	"STN": 22.02,
	"SYP": 12950.0,
	"SZL": 17.79,
	"THB": 34.28,
	"TJS": 10.6,
	"TMT": 3.5,
	"TND": 3.05,
	"TOP": 2.325,
	"TRY": 33.95,
	"TTD": 6.78,
	"TVD": 1.4785,
	"TWD": 31.95,
	"TZS": 2712.0,
	"UAH": 41.2,
	"UGX": 3718.0,
	"UYU": 40.25,
	"UZS": 12680.0,
	"VES": 36.6,
	"VND": 24960.0,
	"VUV": 118.5,
	"WST": 2.71,
	"XAF": 589.5,
	"XCD": 2.7,
	"XDR": 0.7485,
	"XOF": 589.5,
	"XPF": 107.2,
	"YER": 250.3,
	"ZAR": 17.79,
	"ZMW": 26.35,
	"ZWL": 13.85,
}

// fallbackRateSet derives a rate set for any base present in the static
// table. Cross rates go through USD: rate(base->c) = usd(c) / usd(base).
// Returns nil when base is not in the table.
func fallbackRateSet(base string, now time.Time) *RateSet {
	baseRate, ok := fallbackUSDRates[base]
	if !ok {
		return nil
	}

	baseDec := decimal.NewFromFloat(baseRate)
	rates := make(map[string]decimal.Decimal, len(fallbackUSDRates))
	for code, usdRate := range fallbackUSDRates {
		rates[code] = decimal.NewFromFloat(usdRate).DivRound(baseDec, 8)
	}

	return &RateSet{
		Base:      base,
		Rates:     rates,
		FetchedAt: now,
		Fallback:  true,
	}
}
