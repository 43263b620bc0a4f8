package main

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/rpc"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "deploy":
		return runEscrowDeploy(args[1:], stdout, stderr)
	case "deposit":
		return runEscrowDeposit(args[1:], stdout, stderr)
	case "withdraw":
		return runEscrowAction(types.CallTypeEscrowWithdraw, args[1:], stdout, stderr)
	case "seal":
		return runEscrowAction(types.CallTypeEscrowSeal, args[1:], stdout, stderr)
	case "deliver":
		return runEscrowAction(types.CallTypeEscrowReportDelivery, args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return strings.Join([]string{
		"Usage: custody-cli escrow <subcommand> [flags]",
		"",
		"  deploy   --key <file> --buyer <address> --price <amount>",
		"  deposit  --key <file> --contract <address> [--amount <amount>]",
		"  withdraw --key <file> --contract <address>",
		"  seal     --key <file> --contract <address>",
		"  deliver  --key <file> --contract <address>",
		"  get      <contract>",
		"",
		"The deployer is the seller. Without --amount, deposit sends the price",
		"for the seller and twice the price for the buyer.",
	}, "\n")
}

func runEscrowDeploy(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow deploy", stderr)
	keyPath := fs.String("key", "", "seller keystore file")
	buyerFlag := fs.String("buyer", "", "buyer address")
	priceFlag := fs.String("price", "", "agreed price in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	buyer, err := parseAddressFlag("buyer", *buyerFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	price, err := parseAmount(*priceFlag)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--price: %v", err))
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if key.PubKey().Address().Array() == buyer {
		return printError(stderr, "--buyer must differ from the seller")
	}
	return sendCall(stdout, stderr, key, types.CallTypeEscrowDeploy, nil, nil, &types.EscrowDeployPayload{Price: price, Buyer: buyer})
}

func runEscrowDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow deposit", stderr)
	keyPath := fs.String("key", "", "seller or buyer keystore file")
	contractFlag := fs.String("contract", "", "escrow address")
	amountFlag := fs.String("amount", "", "override the deposit amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contract, err := parseAddressFlag("contract", *contractFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var value *big.Int
	if strings.TrimSpace(*amountFlag) != "" {
		if value, err = parseAmount(*amountFlag); err != nil {
			return printError(stderr, fmt.Sprintf("--amount: %v", err))
		}
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if value == nil {
		var view rpc.EscrowJSON
		if err := callRPC("escrow_get", &view, crypto.FromArray(contract).String()); err != nil {
			return handleRPCError(stderr, err)
		}
		if value, err = requiredDeposit(&view, key.PubKey().Address().String()); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return sendCall(stdout, stderr, key, types.CallTypeEscrowDeposit, &contract, value, nil)
}

// requiredDeposit returns the collateral owed by caller: the price for the
// seller and twice the price for the buyer.
func requiredDeposit(view *rpc.EscrowJSON, caller string) (*big.Int, error) {
	price, ok := new(big.Int).SetString(view.Price, 10)
	if !ok {
		return nil, fmt.Errorf("escrow reported malformed price %q", view.Price)
	}
	switch caller {
	case view.Seller:
		return price, nil
	case view.Buyer:
		return price.Lsh(price, 1), nil
	default:
		return nil, fmt.Errorf("%s is neither seller nor buyer of %s", caller, view.Address)
	}
}

func runEscrowAction(typ types.CallType, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(strings.Replace(typ.String(), ".", " ", 1), stderr)
	keyPath := fs.String("key", "", "keystore file")
	contractFlag := fs.String("contract", "", "escrow address")
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
	return sendCall(stdout, stderr, key, typ, &contract, nil, nil)
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "escrow get requires the contract address")
	}
	if _, err := crypto.ParseAddress(args[0]); err != nil {
		return printError(stderr, err.Error())
	}
	var view rpc.EscrowJSON
	if err := callRPC("escrow_get", &view, args[0]); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, view)
	return 0
}
