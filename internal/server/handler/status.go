package handler

import (
	"net/http"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// StatusHandler serves the fixed network identity the client is bound to.
type StatusHandler struct {
	Network  domain.NetworkDescriptor
	Contract string
}

// NewStatusHandler creates a StatusHandler for a network and contract address.
func NewStatusHandler(network domain.NetworkDescriptor, contract string) *StatusHandler {
	return &StatusHandler{Network: network, Contract: contract}
}

// GetStatus responds with the network and contract the API talks to.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	chainID := ""
	if h.Network.ChainID != nil {
		chainID = h.Network.ChainID.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain_id": chainID,
		"network":  h.Network.Name,
		"currency": h.Network.CurrencySymbol,
		"decimals": h.Network.Decimals,
		"rpc_url":  h.Network.RPCURL,
		"contract": h.Contract,
	})
}
