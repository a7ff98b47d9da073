package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names on the auction contract.
const (
	methodCounter  = "auctionCounter"
	methodGet      = "getAuction"
	methodBids     = "getAuctionBids"
	methodCreate   = "createAuction"
	methodPlaceBid = "placeBid"
	methodEnd      = "endAuction"
)

// AuctionABI is the subset of the auction contract interface this client uses.
const AuctionABI = `[
  {"type":"function","name":"auctionCounter","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getAuction","stateMutability":"view",
   "inputs":[{"name":"_auctionId","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"title","type":"string"},
     {"name":"description","type":"string"},
     {"name":"imageUrl","type":"string"},
     {"name":"startingPrice","type":"uint256"},
     {"name":"currentHighestBid","type":"uint256"},
     {"name":"highestBidder","type":"address"},
     {"name":"endTime","type":"uint256"},
     {"name":"ended","type":"bool"},
     {"name":"owner","type":"address"}]},
  {"type":"function","name":"getAuctionBids","stateMutability":"view",
   "inputs":[{"name":"_auctionId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"bidder","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"timestamp","type":"uint256"}]}]},
  {"type":"function","name":"createAuction","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_title","type":"string"},
     {"name":"_description","type":"string"},
     {"name":"_imageUrl","type":"string"},
     {"name":"_startingPrice","type":"uint256"},
     {"name":"_duration","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"placeBid","stateMutability":"payable",
   "inputs":[{"name":"_auctionId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"endAuction","stateMutability":"nonpayable",
   "inputs":[{"name":"_auctionId","type":"uint256"}],"outputs":[]}
]`

// ParsedABI returns the parsed auction contract ABI.
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(AuctionABI))
}
