package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 16

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the JSON body of every error reply. Code is stable and
// meant for programmatic handling; Error is meant for people.
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Ledger bool   `json:"ledger,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorMapping ties a domain error to its HTTP status, stable code and the
// message shown to users.
type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "amount must be a positive ether value"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "invalid input"},
	{domain.ErrNotConnected, http.StatusUnauthorized, "not_connected", "connect your wallet first"},
	{domain.ErrUserRejected, http.StatusForbidden, "user_rejected", "the request was rejected in the wallet"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", "auction not found"},
	{domain.ErrOwnerCannotBid, http.StatusConflict, "owner_cannot_bid", "you cannot bid on your own auction"},
	{domain.ErrAuctionEnded, http.StatusConflict, "auction_ended", "this auction has ended"},
	{domain.ErrBidTooLow, http.StatusConflict, "bid_too_low", "your bid must be higher than the current highest bid"},
	{domain.ErrSessionInvalidated, http.StatusConflict, "session_invalidated", "the network changed, reconnect your wallet"},
	{domain.ErrUnclassified, http.StatusConflict, "ledger_rejected", "the ledger rejected the transaction"},
	{domain.ErrChainMismatch, http.StatusPreconditionFailed, "chain_mismatch", "the wallet is on the wrong network"},
	{domain.ErrAgentUnavailable, http.StatusServiceUnavailable, "agent_unavailable", "no wallet is available"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout", "the ledger did not answer in time"},
}

// writeServiceError maps a service error onto a status and user-facing
// message. Unknown errors are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var rejected *domain.LedgerRejectedError
	isLedger := errors.As(err, &rejected)

	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := errorResponse{Error: m.message, Code: m.code, Ledger: isLedger}
		if m.status == http.StatusBadRequest || isLedger {
			resp.Detail = err.Error()
		}
		writeJSON(w, m.status, resp)
		return
	}

	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// auctionID parses the {id} path parameter.
func auctionID(r *http.Request) (uint64, error) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: auction id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
