package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"custodychain/core"
	cerrors "custodychain/core/errors"
	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/native/auction"
	"custodychain/native/escrow"
	"custodychain/services/indexer"
	"custodychain/storage/journal"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type eventsQueryParams struct {
	Type         string `json:"type,omitempty"`
	Contract     string `json:"contract,omitempty"`
	FromSequence uint64 `json:"fromSequence,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

type setPausedResult struct {
	Module        string   `json:"module"`
	Paused        bool     `json:"paused"`
	PausedModules []string `json:"pausedModules"`
}

func (s *Server) handleSendCall(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var payload CallJSON
	if rpcErr := decodeParam(req, 0, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	call, err := payload.Call()
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid call", Data: err.Error()}
	}
	receipt, err := s.proc.Apply(r.Context(), call)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	result := newReceiptJSON(receipt)
	if !receipt.Accepted() {
		return nil, &RPCError{Code: codeRejected, Message: receipt.Reason, Data: result}
	}
	return result, nil
}

func (s *Server) handleEscrowGet(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snapshot, err := s.proc.Escrow(addr)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newEscrowJSON(snapshot), nil
}

func (s *Server) handleAuctionGet(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snapshot, err := s.proc.Auction(addr)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newAuctionJSON(snapshot, s.proc.Time()), nil
}

func (s *Server) handleAuctionBidder(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bidder, rpcErr := addressParam(req, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	view, err := s.proc.Bidder(addr, bidder)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newBidderJSON(view), nil
}

func (s *Server) handleGetBalance(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.proc.Balance(addr)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	nonce, err := s.proc.Nonce(addr)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return &AccountJSON{Address: crypto.FromArray(addr).String(), Balance: formatAmount(balance), Nonce: nonce}, nil
}

func (s *Server) handleGetNonce(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	nonce, err := s.proc.Nonce(addr)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return nonce, nil
}

func (s *Server) handleTime(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return s.timeResult(s.proc.Time()), nil
}

func (s *Server) timeResult(ts int64) *TimeJSON {
	out := &TimeJSON{Timestamp: ts, StateRoot: "0x" + strings.Repeat("0", 64)}
	if head, ok := s.proc.Head(); ok {
		out.Sequence = head.Sequence
		out.StateRoot = "0x" + hex.EncodeToString(head.Root[:])
	}
	return out
}

// handleGetReceipt accepts either a sequence number or a 0x-prefixed call
// hash.
func (s *Server) handleGetReceipt(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if len(req.Params) < 1 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "sequence or call hash required"}
	}
	var (
		receipt *types.Receipt
		err     error
	)
	var sequence uint64
	if jsonErr := json.Unmarshal(req.Params[0], &sequence); jsonErr == nil {
		receipt, err = s.proc.Receipt(sequence)
	} else {
		var raw string
		if jsonErr := json.Unmarshal(req.Params[0], &raw); jsonErr != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "sequence or call hash required", Data: jsonErr.Error()}
		}
		decoded, decodeErr := decodeHex(raw)
		if decodeErr != nil || len(decoded) != 32 {
			return nil, &RPCError{Code: codeInvalidParams, Message: "call hash must be 32 bytes of hex"}
		}
		var hash [32]byte
		copy(hash[:], decoded)
		receipt, err = s.proc.ReceiptByHash(hash)
	}
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newReceiptJSON(receipt), nil
}

func (s *Server) handlePausedModules(r *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	modules, err := s.proc.PausedModules()
	if err != nil {
		return nil, s.translateError(r, err)
	}
	if modules == nil {
		modules = []string{}
	}
	return modules, nil
}

func (s *Server) handleEventsList(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var from uint64
	limit := defaultEventsLimit
	if len(req.Params) > 0 {
		if rpcErr := decodeParam(req, 0, &from); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if len(req.Params) > 1 {
		if rpcErr := decodeParam(req, 1, &limit); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if limit <= 0 || limit > maxEventsLimit {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("limit must be between 1 and %d", maxEventsLimit)}
	}
	records, err := s.proc.Events(from, limit)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newEventsJSON(records), nil
}

func (s *Server) handleEventsQuery(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.indexer == nil {
		return nil, &RPCError{Code: codeUnavailable, Message: "event indexer disabled"}
	}
	var params eventsQueryParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParam(req, 0, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if params.Limit < 0 || params.Limit > maxEventsLimit {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("limit must be between 1 and %d", maxEventsLimit)}
	}
	if params.Contract != "" {
		if _, err := crypto.ParseAddress(params.Contract); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "invalid contract address", Data: err.Error()}
		}
	}
	records, err := s.indexer.Query(r.Context(), indexer.Filter{
		Type:         params.Type,
		Contract:     params.Contract,
		FromSequence: params.FromSequence,
		Limit:        params.Limit,
	})
	if err != nil {
		return nil, s.translateError(r, err)
	}
	return newEventsJSON(records), nil
}

func (s *Server) handleAdvanceTime(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var seconds int64
	if rpcErr := decodeParam(req, 0, &seconds); rpcErr != nil {
		return nil, rpcErr
	}
	if seconds <= 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "seconds must be positive"}
	}
	ts, err := s.proc.AdvanceTime(seconds)
	if err != nil {
		return nil, s.translateError(r, err)
	}
	s.logger.InfoContext(r.Context(), "ledger clock advanced",
		slog.String("request_id", requestIDFrom(r.Context())),
		slog.Int64("seconds", seconds),
		slog.Int64("timestamp", ts))
	return s.timeResult(ts), nil
}

func (s *Server) handleSetPaused(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var (
		module string
		paused bool
	)
	if rpcErr := decodeParam(req, 0, &module); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := decodeParam(req, 1, &paused); rpcErr != nil {
		return nil, rpcErr
	}
	module = strings.TrimSpace(module)
	if err := s.proc.SetModulePaused(module, paused); err != nil {
		return nil, s.translateError(r, err)
	}
	modules, err := s.proc.PausedModules()
	if err != nil {
		return nil, s.translateError(r, err)
	}
	if modules == nil {
		modules = []string{}
	}
	s.logger.InfoContext(r.Context(), "module pause updated",
		slog.String("request_id", requestIDFrom(r.Context())),
		slog.String("module", module),
		slog.Bool("paused", paused))
	return &setPausedResult{Module: module, Paused: paused, PausedModules: modules}, nil
}

// translateError maps ledger errors onto JSON-RPC errors. Anything not
// recognised is treated as an infrastructure fault and logged.
func (s *Server) translateError(r *http.Request, err error) *RPCError {
	switch {
	case errors.Is(err, cerrors.ErrNonceMismatch):
		return &RPCError{Code: codeNonceMismatch, Message: "nonce mismatch", Data: err.Error()}
	case errors.Is(err, cerrors.ErrBadSignature), errors.Is(err, cerrors.ErrUnknownCall):
		return &RPCError{Code: codeInvalidParams, Message: "call not admitted", Data: err.Error()}
	case errors.Is(err, escrow.ErrAgreementNotFound), errors.Is(err, auction.ErrAuctionNotFound), errors.Is(err, journal.ErrNotFound):
		return &RPCError{Code: codeNotFound, Message: "not found", Data: err.Error()}
	case errors.Is(err, core.ErrUnknownModule):
		return &RPCError{Code: codeInvalidParams, Message: "unknown module", Data: err.Error()}
	case errors.Is(err, core.ErrClockNotManual):
		return &RPCError{Code: codeInvalidRequest, Message: "ledger clock is not manual"}
	default:
		s.logger.ErrorContext(r.Context(), "rpc handler failed",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.Any("error", err))
		return &RPCError{Code: codeServerError, Message: "internal error"}
	}
}

func decodeParam(req *RPCRequest, index int, out interface{}) *RPCError {
	if len(req.Params) <= index {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("parameter %d required", index)}
	}
	if err := json.Unmarshal(req.Params[index], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid parameter %d", index), Data: err.Error()}
	}
	return nil
}

func addressParam(req *RPCRequest, index int) ([20]byte, *RPCError) {
	var raw string
	if rpcErr := decodeParam(req, index, &raw); rpcErr != nil {
		return [20]byte{}, rpcErr
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "invalid address", Data: err.Error()}
	}
	return addr, nil
}
