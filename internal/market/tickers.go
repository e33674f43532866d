package market

import "strings"

// Words that look like tickers but almost never are when written in
// caps inside prose. Cashtagged mentions ($AI) bypass this list.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "AN": true, "AM": true, "AT": true, "BE": true,
	"BY": true, "DO": true, "GO": true, "IF": true, "IN": true, "IS": true,
	"IT": true, "NO": true, "OF": true, "ON": true, "OR": true, "SO": true,
	"TO": true, "UP": true, "US": true, "VS": true, "THE": true, "AND": true,
	"FOR": true, "NOT": true, "ALL": true, "NEW": true, "NOW": true,
	"CEO": true, "CFO": true, "CTO": true, "IPO": true, "GDP": true,
	"CPI": true, "FED": true, "SEC": true, "ETF": true, "EPS": true,
	"YOY": true, "QOQ": true, "USA": true, "USD": true, "AI": true,
	"API": true, "FAQ": true, "PE": true, "EV": true, "OK": true,
	"NYSE": true, "LLC": true, "INC": true, "ASAP": true, "EBIT": true,
}

// ExtractTickers pulls probable ticker symbols from free text. A
// cashtag ($msft) is always taken; a bare run of 1 to 5 capital
// letters is taken unless it is a common abbreviation. Results are
// uppercased, deduplicated case-insensitively, and returned in first
// mention order.
func ExtractTickers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(sym string) {
		sym = strings.ToUpper(sym)
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '$')
	})
	for _, w := range words {
		if strings.HasPrefix(w, "$") {
			sym := strings.TrimPrefix(w, "$")
			if isTickerShaped(strings.ToUpper(sym)) {
				add(sym)
			}
			continue
		}
		if isTickerShaped(w) && !tickerStopwords[w] {
			add(w)
		}
	}
	return out
}

func isTickerShaped(w string) bool {
	if len(w) < 1 || len(w) > 5 {
		return false
	}
	for _, r := range w {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
