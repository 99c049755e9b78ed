// Package decode implements the MessageDecoder: a pure function that
// normalizes the venue's two historical wire formats into a single stream
// of typed MarketEvents.
//
// Decode has no I/O and no shared state. It never blocks and never
// allocates beyond the events it returns. A frame that cannot be parsed at
// all produces zero events and a non-nil error wrapping ErrDecodeFailed —
// that error return value is the "side channel" the design calls for; it is
// never raised as a panic, and the caller (the multiplexer's read loop)
// logs it and moves on.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// ErrDecodeFailed tags an error returned when a frame cannot be parsed at
// all. It is never returned alongside a non-empty event slice.
var ErrDecodeFailed = errors.New("decode: malformed frame")

// Decode accepts one transport frame — already split out of the WebSocket
// framing layer — and returns zero or more MarketEvents. The frame may be a
// single JSON object or a JSON array of objects (the venue batches some
// frames); an array is flattened and each element decoded independently.
// Non-object elements inside an array are silently dropped.
func Decode(raw []byte) ([]types.MarketEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecodeFailed)
	}

	switch trimmed[0] {
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		var events []types.MarketEvent
		for _, elem := range elements {
			if !looksLikeObject(elem) {
				continue // non-dict elements inside an array are silently dropped
			}
			evts, err := decodeOne(elem)
			if err != nil {
				// A single malformed element does not fail the whole batch;
				// the rest of a well-formed array must still decode.
				continue
			}
			events = append(events, evts...)
		}
		return events, nil

	case '{':
		return decodeOne(trimmed)

	default:
		return nil, fmt.Errorf("%w: frame is neither object nor array", ErrDecodeFailed)
	}
}

func looksLikeObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func decodeOne(raw json.RawMessage) ([]types.MarketEvent, error) {
	var frame types.RawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	ts := parseTimestamp(frame.Timestamp)

	switch frame.EventType {
	case "price_change":
		if len(frame.PriceChanges) > 0 {
			events := make([]types.MarketEvent, 0, len(frame.PriceChanges))
			for _, pc := range frame.PriceChanges {
				events = append(events, types.MarketEvent{
					Kind:      types.EventPriceChange,
					Timestamp: ts,
					MarketRef: frame.Market,
					TokenID:   pc.AssetID,
					Price:     parseDecimal(pc.Price),
					BestBid:   parseDecimalPtr(pc.BestBid),
					BestAsk:   parseDecimalPtr(pc.BestAsk),
				})
			}
			return events, nil
		}
		return []types.MarketEvent{{
			Kind:      types.EventPriceChange,
			Timestamp: ts,
			MarketRef: frame.Market,
			TokenID:   frame.AssetID,
			Price:     parseDecimal(frame.Price),
			BestBid:   parseDecimalPtr(frame.Bid),
			BestAsk:   parseDecimalPtr(frame.Ask),
		}}, nil

	case "book":
		return []types.MarketEvent{{
			Kind:      types.EventBook,
			Timestamp: ts,
			MarketRef: frame.Market,
			TokenID:   frame.AssetID,
			Bids:      parseLevels(frame.Buys),
			Asks:      parseLevels(frame.Sells),
		}}, nil

	case "trade":
		return []types.MarketEvent{{
			Kind:      types.EventTrade,
			Timestamp: ts,
			MarketRef: frame.Market,
			TokenID:   frame.AssetID,
			TradeID:   frame.ID,
			Price:     parseDecimal(frame.Price),
		}}, nil

	case "order", "order_fill", "order_cancel":
		var size *decimal.Decimal
		if frame.Size != "" {
			d := parseDecimal(frame.Size)
			size = &d
		}
		return []types.MarketEvent{{
			Kind:         types.EventOrderUpdate,
			Timestamp:    ts,
			OrderID:      frame.OrderID,
			EventSubtype: types.EventSubtype(frame.EventType),
			Price:        parseDecimal(frame.Price),
			OrderSize:    size,
			FillSeq:      frame.FillSeq,
		}}, nil

	default:
		// Unknown event_type values produce zero events, not an error.
		return nil, nil
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDecimalPtr(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func parseLevels(raw []types.RawPriceLevel) []types.PriceLevel {
	if raw == nil {
		return nil
	}
	levels := make([]types.PriceLevel, len(raw))
	for i, l := range raw {
		levels[i] = types.PriceLevel{Price: parseDecimal(l.Price), Size: parseDecimal(l.Size)}
	}
	return levels
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
