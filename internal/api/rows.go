package api

import (
	"strings"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
)

// Column positions in the quotes table.
const (
	colCode = 1 + iota
	colCompany
	colPrice
	colChange
	colChangePercent
	colHigh
	colLow
	colVolume
	colMarketCap

	minCells = 8
)

// ParseRows converts raw table cell text into quotes. Rows with too few cells
// or with a missing or over-long code are dropped; unparsable numbers become
// zero. Only the first row per ticker is kept.
func ParseRows(rows [][]string, maxTickerLen int) []model.Quote {
	if maxTickerLen <= 0 {
		maxTickerLen = 5
	}

	quotes := make([]model.Quote, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, cells := range rows {
		if len(cells) < minCells {
			continue
		}

		code := strings.ToUpper(strings.TrimSpace(cells[colCode]))
		if code == "" || len(code) > maxTickerLen {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		quotes = append(quotes, model.Quote{
			Ticker:        code,
			Name:          companyName(code, cell(cells, colCompany, "")),
			Price:         service.CleanDecimal(cell(cells, colPrice, "0")),
			ChangeAmount:  service.CleanDecimal(cell(cells, colChange, "0")),
			ChangePercent: cell(cells, colChangePercent, "0"),
			DayHigh:       service.CleanDecimal(cell(cells, colHigh, "0")),
			DayLow:        service.CleanDecimal(cell(cells, colLow, "0")),
			Volume:        cell(cells, colVolume, "0"),
			MarketCap:     cell(cells, colMarketCap, "0"),
		})
	}
	return quotes
}

func cell(cells []string, i int, fallback string) string {
	if i >= len(cells) {
		return fallback
	}
	v := strings.TrimSpace(cells[i])
	if v == "" {
		return fallback
	}
	return v
}

// companyName strips a leading ticker code, e.g. "BHPBHP Group" -> "BHP Group".
func companyName(code, company string) string {
	if len(company) > len(code) && strings.HasPrefix(company, code) {
		return strings.TrimSpace(company[len(code):])
	}
	return company
}
