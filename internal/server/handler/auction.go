package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/service"
	"github.com/alanyoungcy/chainauction/internal/synchronizer"
	"github.com/alanyoungcy/chainauction/internal/units"
)

// defaultDuration applies when a create request leaves duration_seconds out.
const defaultDuration = 3600 * time.Second

// AuctionService defines the methods that the auction handler requires from
// the service layer.
type AuctionService interface {
	Auctions(ctx context.Context, q synchronizer.Query) ([]service.AuctionView, error)
	Featured(ctx context.Context) ([]service.AuctionView, error)
	Auction(ctx context.Context, id uint64) (service.AuctionView, error)
	Bids(ctx context.Context, id uint64) ([]service.BidView, error)
	Refresh(ctx context.Context) (service.SnapshotView, error)
	PlaceBid(ctx context.Context, id uint64, amount *big.Int) (service.TxView, error)
	CreateAuction(ctx context.Context, p domain.CreateParams) (service.TxView, error)
	EndAuction(ctx context.Context, id uint64) (service.TxView, error)
}

// AuctionHandler serves auction reads and writes.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logHandler(logger, "auction"),
	}
}

type listAuctionsResponse struct {
	Auctions []service.AuctionView `json:"auctions"`
}

type listBidsResponse struct {
	Bids []service.BidView `json:"bids"`
}

// ListAuctions returns the filtered, searched and sorted auctions.
// GET /api/auctions?status=active|ended|all&q=...&sort=newest|ending_soon|highest_bid|lowest_bid
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	status, err := synchronizer.ParseStatus(params.Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}
	sortKey, err := synchronizer.ParseSort(params.Get("sort"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}

	auctions, err := h.auctions.Auctions(r.Context(), synchronizer.Query{
		Status: status,
		Search: params.Get("q"),
		Sort:   sortKey,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}
	if auctions == nil {
		auctions = []service.AuctionView{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: auctions})
}

// Featured returns the most recently created auctions.
// GET /api/auctions/featured
func (h *AuctionHandler) Featured(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.auctions.Featured(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "featured auctions", err)
		return
	}
	if auctions == nil {
		auctions = []service.AuctionView{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: auctions})
}

// GetAuction returns a single auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	a, err := h.auctions.Auction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListBids returns the bid history of an auction.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	bids, err := h.auctions.Bids(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []service.BidView{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// Refresh runs a synchronization pass and returns the new snapshot.
// POST /api/auctions/refresh
func (h *AuctionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.auctions.Refresh(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// placeBidRequest carries a bid amount in decimal ether.
type placeBidRequest struct {
	Amount string `json:"amount"`
}

// PlaceBid submits a bid and waits for it to be mined.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	var req placeBidRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}

	tx, err := h.auctions.PlaceBid(r.Context(), id, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// createAuctionRequest is the create form. StartingPrice is decimal ether.
type createAuctionRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	ImageURL        string `json:"image_url"`
	StartingPrice   string `json:"starting_price"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
}

// CreateAuction submits a new auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	price, err := parseAmount(req.StartingPrice)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	duration := defaultDuration
	if req.DurationSeconds != nil {
		duration = time.Duration(*req.DurationSeconds) * time.Second
	}

	tx, err := h.auctions.CreateAuction(r.Context(), domain.CreateParams{
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		ImageURL:      strings.TrimSpace(req.ImageURL),
		StartingPrice: price,
		Duration:      duration,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// EndAuction submits endAuction.
// POST /api/auctions/{id}/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "end auction", err)
		return
	}
	tx, err := h.auctions.EndAuction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "end auction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// parseAmount converts a positive decimal ether string to wei.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: amount is required", domain.ErrInvalidAmount)
	}
	wei, err := units.ParseEther(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, err.Error())
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	return wei, nil
}
