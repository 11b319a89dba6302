package geo

// currencyByCountry maps ISO 3166-1 alpha-2 codes to ISO 4217 currencies.
var currencyByCountry = map[string]string{
	"US": "USD", "CA": "CAD", "MX": "MXN", "BR": "BRL", "AR": "ARS",
	"CL": "CLP", "CO": "COP", "PE": "PEN",
	"GB": "GBP", "IE": "EUR", "FR": "EUR", "DE": "EUR", "ES": "EUR",
	"IT": "EUR", "NL": "EUR", "BE": "EUR", "AT": "EUR", "PT": "EUR",
	"FI": "EUR", "GR": "EUR", "LU": "EUR", "SK": "EUR", "SI": "EUR",
	"EE": "EUR", "LV": "EUR", "LT": "EUR", "HR": "EUR", "CY": "EUR",
	"MT": "EUR", "CH": "CHF", "SE": "SEK", "NO": "NOK", "DK": "DKK",
	"PL": "PLN", "CZ": "CZK", "HU": "HUF", "RO": "RON", "BG": "BGN",
	"TR": "TRY", "UA": "UAH", "IL": "ILS", "AE": "AED", "SA": "SAR",
	"ZA": "ZAR", "NG": "NGN", "KE": "KES", "EG": "EGP",
	"IN": "INR", "CN": "CNY", "JP": "JPY", "KR": "KRW", "SG": "SGD",
	"HK": "HKD", "TW": "TWD", "ID": "IDR", "MY": "MYR", "TH": "THB",
	"PH": "PHP", "VN": "VND", "AU": "AUD", "NZ": "NZD",
}

// CurrencyFor returns the currency for a country code, or "" when unknown.
func CurrencyFor(countryCode string) string {
	return currencyByCountry[countryCode]
}
