// Package utils holds small string helpers shared by the config loader.
package utils

import "strings"

// ParseSymbols splits a comma-separated watchlist string into trimmed,
// upper-cased ticker symbols, discarding empty entries.
func ParseSymbols(symbolsParam string) []string {
	if symbolsParam == "" {
		return []string{}
	}

	parts := strings.Split(symbolsParam, ",")
	var result []string
	for _, symbol := range parts {
		symbol = strings.TrimSpace(symbol)
		if symbol != "" {
			result = append(result, strings.ToUpper(symbol))
		}
	}
	return result
}
