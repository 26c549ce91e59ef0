// Package handlers implements the two external transports the engine
// sits behind: the HTTP JSON-RPC façade (POST /jsonrpc, POST /ping) and
// the WebSocket subscribeAccount endpoint (spec.md §6). Both are explicitly
// out-of-core collaborators per spec.md §1 — this package only translates
// wire frames into calls on repository.Facade and the engine types it
// exposes.
package handlers

import (
	"encoding/json"
	"net/http"

	"chain-gateway/internal/logger"
	"chain-gateway/internal/repository"
)

// rpcRequest is one JSON-RPC 2.0 request body, per spec.md §6.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      interface{}   `json:"id"`
}

// rpcError is the error object embedded in an error envelope for the one
// error kind spec.md §6 gives a numeric code: an unrecognized method.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is one JSON-RPC 2.0 response body. Error holds either an
// *rpcError (unknown method) or a plain string (every other error kind),
// per spec.md §6.
type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// methodNotFoundCode is the fixed error code spec.md §6 names for an
// unknown method.
const methodNotFoundCode = -32601

// JSONRPC builds the POST /jsonrpc handler bound to facade.
func JSONRPC(facade *repository.Facade, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, rpcResponse{JSONRPC: "2.0", Error: "bad request format"})
			return
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: "bad request format"})
			return
		}

		result, err := dispatch(r.Context(), facade, req.Method, req.Params)
		if err != nil {
			log.Warningf("jsonrpc %s failed: %s", req.Method, err.Error())
			if err == errMethodNotFound {
				writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: methodNotFoundCode, Message: "Method not found"}})
				return
			}
			writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: err.Error()})
			return
		}
		writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}
}

// Ping builds the POST /ping handler; it does not go through the generic
// method dispatcher since it carries no envelope at all in the teacher's
// convention of a bare liveness probe.
func Ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{"pong"})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
