package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"custodychain/cmd/internal/passphrase"
	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/rpc"
)

const (
	keyPassEnv     = "CUSTODY_KEY_PASS"
	keyPassFileEnv = "CUSTODY_KEY_PASS_FILE"
	rpcURLEnv      = "CUSTODY_RPC_URL"
	rpcTokenEnv    = "CUSTODY_RPC_TOKEN"
	callTimeout    = 30 * time.Second
)

type rpcCaller interface {
	Call(ctx context.Context, method string, out interface{}, params ...interface{}) error
}

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv(rpcTokenEnv))

	newRPCClient = func() rpcCaller { return rpc.NewClient(rpcEndpoint, rpcAuthToken) }

	passSource       = passphrase.NewSource(keyPassEnv, keyPassFileEnv)
	keyPassphrase    = passSource.Unlock
	newKeyPassphrase = passSource.Create
)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "balance":
		return runAccountQuery("ledger_getBalance", args[1:], stdout, stderr)
	case "nonce":
		return runAccountQuery("ledger_getNonce", args[1:], stdout, stderr)
	case "time":
		return runTime(args[1:], stdout, stderr)
	case "receipt":
		return runReceipt(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "commitment":
		return runCommitment(args[1:], stdout, stderr)
	case "escrow":
		return runEscrowCommand(args[1:], stdout, stderr)
	case "auction":
		return runAuctionCommand(args[1:], stdout, stderr)
	case "admin":
		return runAdminCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token" || arg == "--passphrase-file":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			switch arg {
			case "--rpc":
				rpcEndpoint = args[i+1]
			case "--token":
				rpcAuthToken = args[i+1]
			default:
				passSource.SetFile(args[i+1])
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		case strings.HasPrefix(arg, "--passphrase-file="):
			passSource.SetFile(strings.TrimPrefix(arg, "--passphrase-file="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func handleRPCError(stderr io.Writer, err error) int {
	if receipt, ok := rpc.RejectedReceipt(err); ok {
		fmt.Fprintf(stderr, "Call rejected (sequence %d): %s\n", receipt.Sequence, receipt.Reason)
		return 1
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func writeJSON(stdout io.Writer, v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stdout, "%v\n", v)
		return
	}
	fmt.Fprintln(stdout, string(encoded))
}

func callRPC(method string, out interface{}, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return newRPCClient().Call(ctx, method, out, params...)
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--key is required")
	}
	pass, err := keyPassphrase(path)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

// sendCall signs a call with the next nonce of the key's account and submits
// it. The receipt is printed on acceptance.
func sendCall(stdout, stderr io.Writer, key *crypto.PrivateKey, typ types.CallType, to *[20]byte, value *big.Int, payload interface{}) int {
	sender := key.PubKey().Address()
	var nonce uint64
	if err := callRPC("ledger_getNonce", &nonce, sender.String()); err != nil {
		return handleRPCError(stderr, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	call := &types.Call{Type: typ, Nonce: nonce, Value: value}
	if to != nil {
		call.To = append([]byte(nil), to[:]...)
	}
	if payload != nil {
		data, err := types.EncodePayload(payload)
		if err != nil {
			return printError(stderr, err.Error())
		}
		call.Data = data
	}
	if err := call.Sign(key.PrivateKey); err != nil {
		return printError(stderr, fmt.Sprintf("sign call: %v", err))
	}
	var receipt rpc.ReceiptJSON
	if err := callRPC("custody_sendCall", &receipt, rpc.NewCallJSON(call)); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, receipt)
	return 0
}

func parseAddressFlag(name, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("--%s: %v", name, err)
	}
	return addr, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "custody.key.json", "path of the keystore file to write")
	light := fs.Bool("light", false, "use light scrypt parameters (dev keys only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists; refusing to overwrite", *out))
	}
	pass, err := newKeyPassphrase(*out)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	strength := crypto.ScryptStandard
	if *light {
		strength = crypto.ScryptLight
	}
	if err := crypto.WriteKeystore(*out, key, pass, strength); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Keystore written to %s\n", *out)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	fmt.Fprintln(stdout, addr.String())
	fmt.Fprintf(stdout, "0x%x\n", addr.Bytes())
	return 0
}

func runAccountQuery(method string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "exactly one address is required")
	}
	if _, err := crypto.ParseAddress(args[0]); err != nil {
		return printError(stderr, err.Error())
	}
	var result json.RawMessage
	if err := callRPC(method, &result, args[0]); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, result)
	return 0
}

func runTime(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		return printError(stderr, "time takes no arguments")
	}
	var result rpc.TimeJSON
	if err := callRPC("ledger_time", &result); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, result)
	return 0
}

func runReceipt(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "a sequence number or call hash is required")
	}
	var param interface{} = args[0]
	if !strings.HasPrefix(args[0], "0x") {
		var seq uint64
		if _, err := fmt.Sscan(args[0], &seq); err != nil {
			return printError(stderr, "receipt: expected a sequence number or 0x-prefixed call hash")
		}
		param = seq
	}
	var result rpc.ReceiptJSON
	if err := callRPC("ledger_getReceipt", &result, param); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, result)
	return 0
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	keyPath := fs.String("key", "", "keystore file of the sender")
	toFlag := fs.String("to", "", "recipient address")
	amountFlag := fs.String("amount", "", "amount in base units (supports 5e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	to, err := parseAddressFlag("to", *toFlag)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := parseAmount(*amountFlag)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--amount: %v", err))
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return sendCall(stdout, stderr, key, types.CallTypeTransfer, &to, value, nil)
}

func usage() string {
	return strings.Join([]string{
		"Usage: custody-cli [--rpc URL] [--token JWT] [--passphrase-file PATH] <command> [flags]",
		"",
		"Accounts:",
		"  keygen --out <file> [--light]",
		"  address --key <file>",
		"  balance <address>",
		"  nonce <address>",
		"  transfer --key <file> --to <address> --amount <amount>",
		"  time",
		"  receipt <sequence|0xhash>",
		"",
		"Protocols:",
		"  commitment --amount <amount> --nonce <secret|0xhex>",
		"  escrow deploy|deposit|withdraw|seal|deliver|get",
		"  auction deploy|bid|reveal|end|get",
		"",
		"Operations:",
		"  admin token|advance-time|pause|resume",
		"",
		"Keystore passphrases are read from --passphrase-file, " + keyPassFileEnv + ", " + keyPassEnv + " or the terminal, in that order.",
	}, "\n")
}
