package zone

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON decodes a broker position leniently. Numeric fields accept numbers or
// numeric strings; anything else decodes as zero and is recorded in Warnings.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("position is not an object: %w", err)
	}

	*p = Position{}

	if v, ok := raw["ticket"]; ok {
		f, ok := parseNumber(v)
		if !ok {
			p.warn("ticket", v)
		}
		p.Ticket = int64(f)
	} else {
		p.Warnings = append(p.Warnings, "ticket: missing")
	}

	side, ok := parseSide(raw["side"])
	if !ok {
		// MT5-style snapshots carry side as "type" 0/1
		side, ok = parseSide(raw["type"])
	}
	if !ok {
		p.Warnings = append(p.Warnings, "side: unrecognised, defaulting to BUY")
		side = SideBuy
	}
	p.Side = side

	p.Volume = p.number(raw, "volume")
	p.PriceOpen = p.number(raw, "price_open")
	p.PriceCurrent = p.number(raw, "price_current")
	p.Profit = p.number(raw, "profit")

	return nil
}

func (p *Position) number(raw map[string]json.RawMessage, key string) float64 {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	f, ok := parseNumber(v)
	if !ok {
		p.warn(key, v)
		return 0
	}
	return f
}

func (p *Position) warn(key string, v json.RawMessage) {
	p.Warnings = append(p.Warnings, fmt.Sprintf("%s: malformed value %s, using 0", key, string(v)))
}

func parseNumber(v json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	}
	return 0, false
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseSide(v json.RawMessage) (Side, bool) {
	if len(v) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "BUY", "LONG", "0":
			return SideBuy, true
		case "SELL", "SHORT", "1":
			return SideSell, true
		}
		return "", false
	}
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		switch n {
		case 0:
			return SideBuy, true
		case 1:
			return SideSell, true
		}
	}
	return "", false
}

// Sanitize zeroes non-finite numeric fields and normalises side values on positions
// that did not come through JSON decoding. It returns the number of positions touched.
func Sanitize(positions []Position) int {
	touched := 0
	for i := range positions {
		p := &positions[i]
		dirty := false
		for _, f := range []*float64{&p.Volume, &p.PriceOpen, &p.PriceCurrent, &p.Profit} {
			if math.IsNaN(*f) || math.IsInf(*f, 0) {
				*f = 0
				dirty = true
			}
		}
		switch Side(strings.ToUpper(string(p.Side))) {
		case SideBuy:
			p.Side = SideBuy
		case SideSell:
			p.Side = SideSell
		default:
			p.Side = SideBuy
			dirty = true
		}
		if dirty {
			p.Warnings = append(p.Warnings, "sanitized non-finite or unknown fields")
			touched++
		}
	}
	return touched
}
