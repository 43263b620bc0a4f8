package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/native/auction"
	"custodychain/rpc"
)

func runAuctionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}
	switch args[0] {
	case "deploy":
		return runAuctionDeploy(args[1:], stdout, stderr)
	case "bid":
		return runAuctionBid(args[1:], stdout, stderr)
	case "reveal":
		return runAuctionReveal(args[1:], stdout, stderr)
	case "end":
		return runAuctionEnd(args[1:], stdout, stderr)
	case "get":
		return runAuctionGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown auction subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}
}

func auctionUsage() string {
	return strings.Join([]string{
		"Usage: custody-cli auction <subcommand> [flags]",
		"",
		"  deploy --key <file> --bid-deadline <when> --reveal-deadline <when> [--beneficiary <address>]",
		"  bid    --key <file> --contract <address> (--commitment <0xhash> | --amount <amount> --nonce <secret>)",
		"  reveal --key <file> --contract <address> [--amount <amount> --nonce <secret>] [--value <amount>]",
		"  end    --key <file> --contract <address>",
		"  get    <contract> [--bidder <address>]",
		"",
		"Deadlines accept unix seconds, RFC3339 or +duration relative to ledger time (e.g. +2h, +1d).",
		"Bids computed from --amount and --nonce are recorded in the local bid book",
		"(" + bidBookEnv + ", default ~/.custody/bids.db); reveal reads it when both are omitted.",
	}, "\n")
}

func runCommitment(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("commitment", stderr)
	amountFlag := fs.String("amount", "", "bid amount in base units")
	nonceFlag := fs.String("nonce", "", "secret string (max 31 bytes) or 0x-prefixed 32-byte hex")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	commitment, nonce, err := commitmentFromFlags(*amountFlag, *nonceFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "commitment: 0x%s\n", hex.EncodeToString(commitment[:]))
	fmt.Fprintf(stdout, "nonce:      0x%s\n", hex.EncodeToString(nonce[:]))
	return 0
}

func commitmentFromFlags(amountValue, nonceValue string) ([32]byte, [32]byte, error) {
	var commitment, nonce [32]byte
	amount, err := parseAmount(amountValue)
	if err != nil {
		return commitment, nonce, fmt.Errorf("--amount: %v", err)
	}
	if strings.TrimSpace(nonceValue) == "" {
		return commitment, nonce, fmt.Errorf("--nonce is required")
	}
	if nonce, err = auction.ParseNonce(nonceValue); err != nil {
		return commitment, nonce, fmt.Errorf("--nonce: %v", err)
	}
	if commitment, err = auction.ComputeCommitment(amount, nonce); err != nil {
		return commitment, nonce, err
	}
	return commitment, nonce, nil
}

func parseCommitment(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("--commitment must be 0x-prefixed 32-byte hex")
	}
	copy(out[:], raw)
	return out, nil
}

func recordBid(contract, bidder [20]byte, amount *big.Int, nonce, commitment [32]byte) error {
	book, err := openBidBook(bidBookPath)
	if err != nil {
		return err
	}
	defer book.Close()
	return book.Reserve(contract, bidder, amount, nonce, commitment)
}

func lookupBid(contract, bidder [20]byte) (bidSecret, error) {
	book, err := openBidBook(bidBookPath)
	if err != nil {
		return bidSecret{}, err
	}
	defer book.Close()
	secret, err := book.Lookup(contract, bidder)
	if errors.Is(err, errBidNotRecorded) {
		return secret, fmt.Errorf("%w; pass --amount and --nonce", err)
	}
	return secret, err
}

func ledgerNow() (int64, error) {
	var now rpc.TimeJSON
	if err := callRPC("ledger_time", &now); err != nil {
		return 0, err
	}
	return now.Timestamp, nil
}

func runAuctionDeploy(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("auction deploy", stderr)
	keyPath := fs.String("key", "", "deployer keystore file")
	beneficiaryFlag := fs.String("beneficiary", "", "address receiving the winning bid (defaults to the deployer)")
	bidFlag := fs.String("bid-deadline", "", "end of the commit phase")
	revealFlag := fs.String("reveal-deadline", "", "end of the reveal phase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*bidFlag) == "" || strings.TrimSpace(*revealFlag) == "" {
		return printError(stderr, "--bid-deadline and --reveal-deadline are required")
	}
	var now int64
	if strings.HasPrefix(strings.TrimSpace(*bidFlag), "+") || strings.HasPrefix(strings.TrimSpace(*revealFlag), "+") {
		ts, err := ledgerNow()
		if err != nil {
			return handleRPCError(stderr, err)
		}
		now = ts
	}
	bidDeadline, err := parseDeadline("bid-deadline", *bidFlag, now)
	if err != nil {
		return printError(stderr, err.Error())
	}
	revealDeadline, err := parseDeadline("reveal-deadline", *revealFlag, now)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if revealDeadline <= bidDeadline {
		return printError(stderr, "--reveal-deadline must be after --bid-deadline")
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	beneficiary := key.PubKey().Address().Array()
	if strings.TrimSpace(*beneficiaryFlag) != "" {
		if beneficiary, err = parseAddressFlag("beneficiary", *beneficiaryFlag); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return sendCall(stdout, stderr, key, types.CallTypeAuctionDeploy, nil, nil, &types.AuctionDeployPayload{
		Beneficiary:    beneficiary,
		BidDeadline:    bidDeadline,
		RevealDeadline: revealDeadline,
	})
}

func runAuctionBid(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("auction bid", stderr)
	keyPath := fs.String("key", "", "bidder keystore file")
	contractFlag := fs.String("contract", "", "auction address")
	commitmentFlag := fs.String("commitment", "", "precomputed commitment")
	amountFlag := fs.String("amount", "", "bid amount, used with --nonce to compute the commitment locally")
	nonceFlag := fs.String("nonce", "", "bid secret")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contract, err := parseAddressFlag("contract", *contractFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var (
		commitment [32]byte
		nonce      [32]byte
		local      = strings.TrimSpace(*commitmentFlag) == ""
	)
	if local {
		if commitment, nonce, err = commitmentFromFlags(*amountFlag, *nonceFlag); err != nil {
			return printError(stderr, err.Error())
		}
	} else {
		if *amountFlag != "" || *nonceFlag != "" {
			return printError(stderr, "--commitment cannot be combined with --amount or --nonce")
		}
		if commitment, err = parseCommitment(*commitmentFlag); err != nil {
			return printError(stderr, err.Error())
		}
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if local {
		// Recorded before submission.
		amount, _ := parseAmount(*amountFlag)
		if err := recordBid(contract, key.PubKey().Address().Array(), amount, nonce, commitment); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return sendCall(stdout, stderr, key, types.CallTypeAuctionBid, &contract, nil, &types.AuctionBidPayload{Commitment: commitment})
}

func runAuctionReveal(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("auction reveal", stderr)
	keyPath := fs.String("key", "", "bidder keystore file")
	contractFlag := fs.String("contract", "", "auction address")
	amountFlag := fs.String("amount", "", "committed bid amount")
	nonceFlag := fs.String("nonce", "", "committed bid secret")
	valueFlag := fs.String("value", "", "value to attach (defaults to --amount)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contract, err := parseAddressFlag("contract", *contractFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fromBook := strings.TrimSpace(*amountFlag) == "" && strings.TrimSpace(*nonceFlag) == ""
	var (
		amount *big.Int
		nonce  [32]byte
	)
	if !fromBook {
		if amount, err = parseAmount(*amountFlag); err != nil {
			return printError(stderr, fmt.Sprintf("--amount: %v", err))
		}
		if strings.TrimSpace(*nonceFlag) == "" {
			return printError(stderr, "--nonce is required")
		}
		if nonce, err = auction.ParseNonce(*nonceFlag); err != nil {
			return printError(stderr, fmt.Sprintf("--nonce: %v", err))
		}
	}
	var value *big.Int
	if strings.TrimSpace(*valueFlag) != "" {
		if value, err = parseAmount(*valueFlag); err != nil {
			return printError(stderr, fmt.Sprintf("--value: %v", err))
		}
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if fromBook {
		secret, err := lookupBid(contract, key.PubKey().Address().Array())
		if err != nil {
			return printError(stderr, err.Error())
		}
		if amount, err = secret.amount(); err != nil {
			return printError(stderr, err.Error())
		}
		if nonce, err = secret.nonce(); err != nil {
			return printError(stderr, err.Error())
		}
	}
	if value == nil {
		value = new(big.Int).Set(amount)
	}
	return sendCall(stdout, stderr, key, types.CallTypeAuctionReveal, &contract, value, &types.AuctionRevealPayload{Amount: amount, Nonce: nonce})
}

func runAuctionEnd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("auction end", stderr)
	keyPath := fs.String("key", "", "keystore file of any account")
	contractFlag := fs.String("contract", "", "auction address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contract, err := parseAddressFlag("contract", *contractFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return sendCall(stdout, stderr, key, types.CallTypeAuctionEnd, &contract, nil, nil)
}

func runAuctionGet(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return printError(stderr, "auction get requires the contract address")
	}
	contract := args[0]
	fs := newFlagSet("auction get", stderr)
	bidderFlag := fs.String("bidder", "", "show one bidder's commitment and custody")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if _, err := crypto.ParseAddress(contract); err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(*bidderFlag) != "" {
		if _, err := crypto.ParseAddress(*bidderFlag); err != nil {
			return printError(stderr, fmt.Sprintf("--bidder: %v", err))
		}
		var view rpc.BidderJSON
		if err := callRPC("auction_bidder", &view, contract, *bidderFlag); err != nil {
			return handleRPCError(stderr, err)
		}
		writeJSON(stdout, view)
		return 0
	}
	var view rpc.AuctionJSON
	if err := callRPC("auction_get", &view, contract); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, view)
	return 0
}
