package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/middleware"
)

// RPCHandler exposes the platform's RPC method map and CLI command map over
// HTTP.
type RPCHandler struct {
	Platform *integration.Platform
}

type rpcResponse struct {
	Method string `json:"method"`
	Result any    `json:"result"`
}

// Methods GET /api/rpc
func (h *RPCHandler) Methods(w http.ResponseWriter, r *http.Request) {
	methods := h.Platform.RPCMethods()
	sendJSON(w, http.StatusOK, map[string]interface{}{"methods": methods, "total": len(methods)})
}

// Call invokes one method with the request body as its params.
// POST /api/rpc/{method}
func (h *RPCHandler) Call(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		sendJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, err := callerContext(r)
	if err != nil {
		sendError(w, err)
		return
	}
	method := urlParam(r, "method")
	result, err := h.Platform.Call(ctx, method, body)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rpcResponse{Method: method, Result: result})
}

// callerContext carries the session admin into the platform so each method
// checks its own permission and acting identity.
func callerContext(r *http.Request) (context.Context, error) {
	a, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		return nil, errNoSession
	}
	return integration.WithCaller(r.Context(), a), nil
}

type cliRequest struct {
	Args []string `json:"args"`
}

type cliResponse struct {
	Output string `json:"output"`
}

// Usage GET /api/cli
func (h *RPCHandler) Usage(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, cliResponse{Output: h.Platform.CLIUsage()})
}

// Exec runs a CLI command. The path segment names the command with dots or
// spaces ("org.create", "org create"); the body carries its flags.
// POST /api/cli/{command}
func (h *RPCHandler) Exec(w http.ResponseWriter, r *http.Request) {
	var req cliRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	args := strings.Fields(strings.ReplaceAll(urlParam(r, "command"), ".", " "))
	args = append(args, req.Args...)

	ctx, err := callerContext(r)
	if err != nil {
		sendError(w, err)
		return
	}
	output, err := h.Platform.ExecCLI(ctx, args)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, cliResponse{Output: output})
}
