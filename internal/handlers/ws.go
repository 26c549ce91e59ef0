package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"chain-gateway/internal/engine"
	"chain-gateway/internal/logger"
	"chain-gateway/internal/repository"
	"chain-gateway/internal/types"
	"chain-gateway/internal/validator"
)

// outBufferSize is the per-connection delivery channel's capacity. The
// dispatcher's send must never block (spec.md §5); a connection whose
// consumer falls behind this far drops the frame being sent (frames
// already buffered are kept) rather than stalling the poller.
const outBufferSize = 256

// upgrader is shared across every WebSocket accept; origin checking is
// left to whatever reverse proxy fronts the gateway, matching the
// teacher's own bare net/http registration style.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn binds one accepted WebSocket to its connection id and a
// non-blocking outbound frame channel.
type wsConn struct {
	cid  engine.ConnID
	conn *websocket.Conn
	out  chan types.WSFrame
	log  logger.Logger
}

func (c *wsConn) send(event engine.Event, payload interface{}) {
	data, ok := payload.(types.SubscribeAccountPayload)
	frame := types.WSFrame{Error: false, Event: string(event)}
	if ok {
		frame.Data = &data
	}
	select {
	case c.out <- frame:
	default:
		c.log.Warningf("connection %s delivery buffer full, dropping frame", c.cid)
	}
}

func (c *wsConn) sendError(message string) {
	frame := types.WSFrame{Error: message}
	select {
	case c.out <- frame:
	default:
		c.log.Warningf("connection %s delivery buffer full, dropping error frame", c.cid)
	}
}

func (c *wsConn) writePump() {
	for frame := range c.out {
		if err := c.conn.WriteJSON(frame); err != nil {
			c.log.Debugf("connection %s write failed: %s", c.cid, err.Error())
			return
		}
	}
}

// WebSocket builds the subscribeAccount upgrade handler bound to facade
// and val. Each accepted connection gets its own read loop and write pump;
// the write pump is the only goroutine that touches the underlying
// websocket.Conn for writes, avoiding concurrent-write panics.
func WebSocket(facade *repository.Facade, val *validator.AddressValidator, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warningf("websocket upgrade failed: %s", err.Error())
			return
		}

		cid, err := facade.Lifecycle.Accept()
		if err != nil {
			log.Errorf("can not mint connection id: %s", err.Error())
			_ = conn.Close()
			return
		}

		wc := &wsConn{cid: cid, conn: conn, out: make(chan types.WSFrame, outBufferSize), log: log}
		go wc.writePump()

		defer func() {
			facade.Lifecycle.Close(cid)
			close(wc.out)
			_ = conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req types.WSRequest
			if jsonErr := json.Unmarshal(raw, &req); jsonErr != nil || req.Method == "" {
				wc.sendError("bad request format")
				continue
			}

			handleFrame(r.Context(), facade, val, wc, &req)
		}
	}
}

func handleFrame(ctx context.Context, facade *repository.Facade, val *validator.AddressValidator, wc *wsConn, req *types.WSRequest) {
	switch req.Method {
	case "subscribeAccount":
		handleSubscribeAccount(ctx, facade, val, wc, req.Params)
	default:
		wc.sendError("Method not found")
	}
}

func handleSubscribeAccount(ctx context.Context, facade *repository.Facade, val *validator.AddressValidator, wc *wsConn, params []interface{}) {
	address, tokens, err := parseSubscribeParams(params)
	if err != nil {
		wc.sendError(err.Error())
		return
	}

	if err := val.ValidateAccount(ctx, address); err != nil {
		wc.sendError(engine.ErrNotAnAccount.Error())
		return
	}
	if len(tokens) > 0 {
		if err := val.ValidateTokens(ctx, tokens); err != nil {
			wc.sendError(engine.ErrNotAContract.Error())
			return
		}
	}

	interest := engine.Interest{Address: address, Tokens: tokens}
	err = facade.Table.AddSub(wc.cid, engine.EventSubscribeAccount, wc.send, wc.sendError, []engine.Interest{interest})
	if err != nil {
		wc.sendError(err.Error())
		return
	}

	for _, token := range tokens {
		_ = facade.SeedContractInterest(ctx, token)
	}
}

// parseSubscribeParams decodes params = [address, [token0, token1, ...]]
// per spec.md §6.
func parseSubscribeParams(params []interface{}) (string, []string, error) {
	if len(params) < 1 {
		return "", nil, errBadParams
	}
	address, ok := params[0].(string)
	if !ok || address == "" {
		return "", nil, errBadParams
	}

	var tokens []string
	if len(params) >= 2 && params[1] != nil {
		raw, ok := params[1].([]interface{})
		if !ok {
			return "", nil, errBadParams
		}
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return "", nil, errBadParams
			}
			tokens = append(tokens, s)
		}
	}

	return address, tokens, nil
}

var errBadParams = badParamsErr{}

type badParamsErr struct{}

func (badParamsErr) Error() string { return "bad request format" }
