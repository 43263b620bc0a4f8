package core

import (
	"math/big"

	"custodychain/core/events"
	"custodychain/core/state"
	"custodychain/core/types"
	"custodychain/native/auction"
	"custodychain/native/escrow"
	"custodychain/storage/journal"
)

// EscrowSnapshot is the read view of an exchange agreement together with the
// balance its custody account currently holds.
type EscrowSnapshot struct {
	Agreement *escrow.Agreement
	Balance   *big.Int
}

// AuctionSnapshot is the read view of an auction, its custody balance and the
// bidders that recorded a commitment.
type AuctionSnapshot struct {
	Auction *auction.Auction
	Balance *big.Int
	Bidders [][20]byte
}

// Escrow returns the agreement deployed at addr.
func (p *Processor) Escrow(addr [20]byte) (*EscrowSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agreement, err := p.escrow.Get(addr)
	if err != nil {
		return nil, err
	}
	balance, err := p.state.Balance(addr)
	if err != nil {
		return nil, err
	}
	return &EscrowSnapshot{Agreement: agreement, Balance: balance}, nil
}

// Auction returns the auction deployed at addr.
func (p *Processor) Auction(addr [20]byte) (*AuctionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, err := p.auction.Get(addr)
	if err != nil {
		return nil, err
	}
	balance, err := p.state.Balance(addr)
	if err != nil {
		return nil, err
	}
	bidders, err := p.state.AuctionBidders(addr)
	if err != nil {
		return nil, err
	}
	return &AuctionSnapshot{Auction: record, Balance: balance, Bidders: bidders}, nil
}

// Bidder returns the commitment and custody of a single bidder.
func (p *Processor) Bidder(addr, bidder [20]byte) (*auction.BidderView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auction.Bidder(addr, bidder)
}

// Contract returns the registry entry of a deployed instance.
func (p *Processor) Contract(addr [20]byte) (*state.ContractInfo, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ContractGet(addr)
}

func (p *Processor) Balance(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Balance(addr)
}

func (p *Processor) Nonce(addr [20]byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Nonce(addr)
}

// PausedModules lists the modules currently rejecting mutating calls.
func (p *Processor) PausedModules() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.PausedModules()
}

// Head returns the journal position of the last admitted call.
func (p *Processor) Head() (journal.Head, bool) {
	return p.journal.Head()
}

func (p *Processor) Receipt(sequence uint64) (*types.Receipt, error) {
	return p.journal.Receipt(sequence)
}

func (p *Processor) ReceiptByHash(hash [32]byte) (*types.Receipt, error) {
	return p.journal.ReceiptByHash(hash)
}

// Events pages through the journaled events starting at fromSequence.
func (p *Processor) Events(fromSequence uint64, limit int) ([]events.Published, error) {
	return p.journal.Events(fromSequence, limit)
}
