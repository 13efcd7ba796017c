package zerodha

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// defaultTokens are NSE instrument tokens for the symbols the service
// tracks out of the box. Config overrides extend or replace them.
var defaultTokens = map[string]uint32{
	"RELIANCE":   738561,
	"TCS":        2953217,
	"HDFCBANK":   341249,
	"INFY":       408065,
	"HCLTECH":    1850625,
	"LT":         2939649,
	"SBIN":       779521,
	"ICICIBANK":  1270529,
	"AXISBANK":   1510401,
	"KOTAKBANK":  492033,
	"ITC":        424961,
	"TATAMOTORS": 884737,
	"TITAN":      897537,
	"JSWSTEEL":   3001089,
	"ULTRACEMCO": 2952193,
	"BAJFINANCE": 81153,
	"HDFCLIFE":   119553,
	"BHARTIARTL": 2714625,
	"ASIANPAINT": 60417,
	"MARUTI":     2815745,
	"NIFTY 50":   256265,
}

// instrumentMapper manages bidirectional mapping between symbols and tokens
type instrumentMapper struct {
	symbolToToken map[string]uint32
	tokenToSymbol map[uint32]string
	mu            sync.RWMutex
}

func newInstrumentMapper(overrides map[string]uint32) *instrumentMapper {
	im := &instrumentMapper{
		symbolToToken: make(map[string]uint32),
		tokenToSymbol: make(map[uint32]string),
	}
	for symbol, token := range defaultTokens {
		im.addMapping(symbol, token)
	}
	for symbol, token := range overrides {
		if old, ok := im.symbolToToken[symbol]; ok {
			delete(im.tokenToSymbol, old)
		}
		im.addMapping(symbol, token)
	}
	return im
}

func (im *instrumentMapper) addMapping(symbol string, token uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.symbolToToken[symbol] = token
	im.tokenToSymbol[token] = symbol
}

func (im *instrumentMapper) getToken(symbol string) (uint32, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	token, ok := im.symbolToToken[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return token, nil
}

// getSymbol returns "" for tokens that were never mapped.
func (im *instrumentMapper) getSymbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	return im.tokenToSymbol[token]
}

// getAllTokens returns every registered token in ascending order.
func (im *instrumentMapper) getAllTokens() []uint32 {
	im.mu.RLock()
	defer im.mu.RUnlock()

	tokens := make([]uint32, 0, len(im.tokenToSymbol))
	for token := range im.tokenToSymbol {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}
