package finnhub

import "encoding/json"

// subscribeReq is the outbound control message, one per tracked alias.
type subscribeReq struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// tradeItem is one element of a trade message's data array.
type tradeItem struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Ts     int64   `json:"t"` // epoch ms
	Volume float64 `json:"v"`
}

// envelope is the top-level inbound message. Data stays raw until the type is
// known so a malformed payload can be dropped without losing the envelope.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}
