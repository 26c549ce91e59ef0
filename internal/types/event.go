package types

// EventTx is the wire-shaped transaction payload embedded in a dispatched
// subscribeAccount event. Value is always a decimal string to avoid
// precision loss in clients that do not carry big integers natively.
type EventTx struct {
	Height  uint64  `json:"height"`
	Hash    string  `json:"hash,omitempty"`
	TxID    string  `json:"txid,omitempty"`
	From    *string `json:"from,omitempty"`
	To      string  `json:"to"`
	Value   string  `json:"value"`
	Symbol  *string `json:"symbol,omitempty"`
	Fee     *string `json:"fee,omitempty"`
	Receipt *string `json:"receipt,omitempty"`
}

// SubscribeAccountPayload is the `data` object of a subscribeAccount push
// frame, per spec.md §4.4.
type SubscribeAccountPayload struct {
	Event string  `json:"event"`
	Addr  string  `json:"addr"`
	Token *string `json:"token,omitempty"`
	Tx    EventTx `json:"tx"`
}

// WSFrame is a server-to-client WebSocket frame.
type WSFrame struct {
	Error interface{}              `json:"error"`
	Event string                   `json:"event,omitempty"`
	Data  *SubscribeAccountPayload `json:"data,omitempty"`
}

// WSRequest is a client-to-server WebSocket frame, always
// {method, params, id}.
type WSRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     interface{}   `json:"id"`
}
