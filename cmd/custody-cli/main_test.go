package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"custodychain/cmd/internal/passphrase"
	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/native/auction"
	"custodychain/rpc"
)

type recordedCall struct {
	method string
	params []interface{}
}

type fakeRPC struct {
	calls   []recordedCall
	handler func(method string, params []interface{}) (interface{}, error)
}

func (f *fakeRPC) Call(_ context.Context, method string, out interface{}, params ...interface{}) error {
	f.calls = append(f.calls, recordedCall{method: method, params: params})
	result, err := f.handler(method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeRPC) find(method string) *recordedCall {
	for i := range f.calls {
		if f.calls[i].method == method {
			return &f.calls[i]
		}
	}
	return nil
}

func withFakeRPC(t *testing.T, handler func(method string, params []interface{}) (interface{}, error)) *fakeRPC {
	t.Helper()
	fake := &fakeRPC{handler: handler}
	prevClient, prevPass, prevNewPass, prevBook := newRPCClient, keyPassphrase, newKeyPassphrase, bidBookPath
	newRPCClient = func() rpcCaller { return fake }
	keyPassphrase = func(string) (string, error) { return "test-pass", nil }
	newKeyPassphrase = keyPassphrase
	bidBookPath = filepath.Join(t.TempDir(), "bids.db")
	t.Cleanup(func() {
		newRPCClient = prevClient
		keyPassphrase = prevPass
		newKeyPassphrase = prevNewPass
		bidBookPath = prevBook
	})
	return fake
}

func writeTestKey(t *testing.T) (string, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := crypto.WriteKeystore(path, key, "test-pass", crypto.ScryptLight); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	return path, key
}

func sentCall(t *testing.T, fake *fakeRPC) *types.Call {
	t.Helper()
	rec := fake.find("custody_sendCall")
	if rec == nil {
		t.Fatalf("custody_sendCall was not invoked; calls: %+v", fake.calls)
	}
	callJSON, ok := rec.params[0].(rpc.CallJSON)
	if !ok {
		t.Fatalf("unexpected param type %T", rec.params[0])
	}
	call, err := callJSON.Call()
	if err != nil {
		t.Fatalf("decode call: %v", err)
	}
	return call
}

func acceptingHandler(nonce uint64, extra func(string, []interface{}) (interface{}, error)) func(string, []interface{}) (interface{}, error) {
	return func(method string, params []interface{}) (interface{}, error) {
		switch method {
		case "ledger_getNonce":
			return nonce, nil
		case "custody_sendCall":
			return rpc.ReceiptJSON{Sequence: 12, Status: "ok"}, nil
		}
		if extra != nil {
			return extra(method, params)
		}
		return nil, &rpc.RPCError{Code: -32601, Message: "method not found"}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "1000", want: "1000"},
		{in: "1_000", want: "1000"},
		{in: "5e18", want: "5000000000000000000"},
		{in: "2.5e3", want: "2500"},
		{in: "0.10e2", want: "10"},
		{in: "", wantErr: "required"},
		{in: "-4", wantErr: "positive"},
		{in: "0", wantErr: "positive"},
		{in: "1.5", wantErr: "integer"},
		{in: "1.2.3", wantErr: "format"},
		{in: "12abc", wantErr: "format"},
		{in: "1e", wantErr: "scientific"},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in)
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("parseAmount(%q): expected error containing %q, got %v (%v)", tc.in, tc.wantErr, got, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parseAmount(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestParseDeadline(t *testing.T) {
	const now = int64(1_700_000_000)
	cases := []struct {
		in   string
		want uint64
	}{
		{in: "1700000500", want: 1_700_000_500},
		{in: "+90s", want: 1_700_000_090},
		{in: "+2h", want: 1_700_007_200},
		{in: "+1d", want: 1_700_086_400},
		{in: "2023-11-14T22:13:20Z", want: 1_700_000_000},
	}
	for _, tc := range cases {
		got, err := parseDeadline("bid-deadline", tc.in, now)
		if err != nil {
			t.Fatalf("parseDeadline(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseDeadline(%q): expected %d, got %d", tc.in, tc.want, got)
		}
	}
	for _, bad := range []string{"", "+", "+0s", "tomorrow"} {
		if _, err := parseDeadline("bid-deadline", bad, now); err == nil {
			t.Fatalf("parseDeadline(%q): expected error", bad)
		}
	}
}

func TestCommitmentMatchesAuctionHash(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"commitment", "--amount", "5e18", "--nonce", "s3cret"}, &stdout, &stderr); code != 0 {
		t.Fatalf("commitment exited %d: %s", code, stderr.String())
	}
	nonce, err := auction.NonceFromString("s3cret")
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	amount, _ := new(big.Int).SetString("5000000000000000000", 10)
	want, err := auction.ComputeCommitment(amount, nonce)
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	if !strings.Contains(stdout.String(), "commitment: 0x"+hex.EncodeToString(want[:])) {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestTransferSignsWithNextNonce(t *testing.T) {
	keyPath, key := writeTestKey(t)
	fake := withFakeRPC(t, acceptingHandler(7, nil))
	recipient := crypto.FromArray([20]byte{9, 9, 9})

	var stdout, stderr bytes.Buffer
	code := run([]string{"transfer", "--key", keyPath, "--to", recipient.String(), "--amount", "5e18"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("transfer exited %d: %s", code, stderr.String())
	}
	call := sentCall(t, fake)
	if call.Type != types.CallTypeTransfer || call.Nonce != 7 {
		t.Fatalf("unexpected call type %s nonce %d", call.Type, call.Nonce)
	}
	if call.Value.String() != "5000000000000000000" {
		t.Fatalf("unexpected value %s", call.Value)
	}
	sender, err := call.Sender()
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if sender != key.PubKey().Address().Array() {
		t.Fatalf("call not signed by keystore key")
	}
	if !bytes.Equal(call.To, recipient.Bytes()) {
		t.Fatalf("unexpected recipient %x", call.To)
	}
	if !strings.Contains(stdout.String(), `"sequence": 12`) {
		t.Fatalf("receipt not printed:\n%s", stdout.String())
	}
}

func TestEscrowDepositComputesCollateralByRole(t *testing.T) {
	keyPath, key := writeTestKey(t)
	self := key.PubKey().Address().String()
	other := crypto.FromArray([20]byte{1}).String()
	contract := crypto.FromArray([20]byte{0xEE})

	cases := []struct {
		name   string
		seller string
		buyer  string
		want   string
	}{
		{name: "seller deposits price", seller: self, buyer: other, want: "10"},
		{name: "buyer deposits twice the price", seller: other, buyer: self, want: "20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := withFakeRPC(t, acceptingHandler(0, func(method string, _ []interface{}) (interface{}, error) {
				if method != "escrow_get" {
					t.Fatalf("unexpected method %s", method)
				}
				return rpc.EscrowJSON{Address: contract.String(), Seller: tc.seller, Buyer: tc.buyer, Price: "10"}, nil
			}))
			var stdout, stderr bytes.Buffer
			if code := run([]string{"escrow", "deposit", "--key", keyPath, "--contract", contract.String()}, &stdout, &stderr); code != 0 {
				t.Fatalf("deposit exited %d: %s", code, stderr.String())
			}
			call := sentCall(t, fake)
			if call.Type != types.CallTypeEscrowDeposit || call.Value.String() != tc.want {
				t.Fatalf("expected deposit of %s, got %s value %s", tc.want, call.Type, call.Value)
			}
		})
	}
}

func TestEscrowDepositRefusesStranger(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	contract := crypto.FromArray([20]byte{0xEE}).String()
	fake := withFakeRPC(t, acceptingHandler(0, func(string, []interface{}) (interface{}, error) {
		return rpc.EscrowJSON{
			Address: contract,
			Seller:  crypto.FromArray([20]byte{1}).String(),
			Buyer:   crypto.FromArray([20]byte{2}).String(),
			Price:   "10",
		}, nil
	}))
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "deposit", "--key", keyPath, "--contract", contract}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(stderr.String(), "neither seller nor buyer") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
	if fake.find("custody_sendCall") != nil {
		t.Fatalf("no call should be submitted")
	}
}

func TestAuctionRevealAttachesAmount(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	fake := withFakeRPC(t, acceptingHandler(3, nil))
	contract := crypto.FromArray([20]byte{0xAA}).String()

	var stdout, stderr bytes.Buffer
	code := run([]string{"auction", "reveal", "--key", keyPath, "--contract", contract, "--amount", "42", "--nonce", "pepper"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("reveal exited %d: %s", code, stderr.String())
	}
	call := sentCall(t, fake)
	if call.Type != types.CallTypeAuctionReveal || call.Value.Int64() != 42 {
		t.Fatalf("unexpected reveal call %s value %s", call.Type, call.Value)
	}
	var payload types.AuctionRevealPayload
	if err := types.DecodePayload(call.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	wantNonce, _ := auction.NonceFromString("pepper")
	if payload.Amount.Int64() != 42 || payload.Nonce != wantNonce {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestBidBookFeedsReveal(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	fake := withFakeRPC(t, acceptingHandler(0, nil))
	contract := crypto.FromArray([20]byte{0xAB}).String()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"auction", "bid", "--key", keyPath, "--contract", contract, "--amount", "7e3", "--nonce", "salt"}, &stdout, &stderr); code != 0 {
		t.Fatalf("bid exited %d: %s", code, stderr.String())
	}
	bid := sentCall(t, fake)
	var bidPayload types.AuctionBidPayload
	if err := types.DecodePayload(bid.Data, &bidPayload); err != nil {
		t.Fatalf("decode bid: %v", err)
	}
	salt, _ := auction.NonceFromString("salt")
	want, _ := auction.ComputeCommitment(big.NewInt(7000), salt)
	if bidPayload.Commitment != want {
		t.Fatalf("unexpected commitment %x", bidPayload.Commitment)
	}

	// A different bid for the same auction must not replace the recorded secret.
	stderr.Reset()
	if code := run([]string{"auction", "bid", "--key", keyPath, "--contract", contract, "--amount", "9", "--nonce", "salt"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected conflicting bid to fail, got %d", code)
	}
	if !strings.Contains(stderr.String(), "already recorded") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}

	fake.calls = nil
	stderr.Reset()
	if code := run([]string{"auction", "reveal", "--key", keyPath, "--contract", contract}, &stdout, &stderr); code != 0 {
		t.Fatalf("reveal exited %d: %s", code, stderr.String())
	}
	reveal := sentCall(t, fake)
	var payload types.AuctionRevealPayload
	if err := types.DecodePayload(reveal.Data, &payload); err != nil {
		t.Fatalf("decode reveal: %v", err)
	}
	if payload.Amount.Int64() != 7000 || payload.Nonce != salt || reveal.Value.Int64() != 7000 {
		t.Fatalf("reveal did not use the recorded secret: %+v value %s", payload, reveal.Value)
	}

	other := crypto.FromArray([20]byte{0xAC}).String()
	stderr.Reset()
	if code := run([]string{"auction", "reveal", "--key", keyPath, "--contract", other}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected reveal without a recorded bid to fail")
	}
	if !strings.Contains(stderr.String(), "pass --amount and --nonce") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestAuctionDeployResolvesRelativeDeadlines(t *testing.T) {
	keyPath, key := writeTestKey(t)
	fake := withFakeRPC(t, acceptingHandler(0, func(method string, _ []interface{}) (interface{}, error) {
		if method != "ledger_time" {
			t.Fatalf("unexpected method %s", method)
		}
		return rpc.TimeJSON{Timestamp: 1_000}, nil
	}))
	var stdout, stderr bytes.Buffer
	code := run([]string{"auction", "deploy", "--key", keyPath, "--bid-deadline", "+1m", "--reveal-deadline", "+2m"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("deploy exited %d: %s", code, stderr.String())
	}
	call := sentCall(t, fake)
	var payload types.AuctionDeployPayload
	if err := types.DecodePayload(call.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.BidDeadline != 1_060 || payload.RevealDeadline != 1_120 {
		t.Fatalf("unexpected deadlines %d/%d", payload.BidDeadline, payload.RevealDeadline)
	}
	if payload.Beneficiary != key.PubKey().Address().Array() {
		t.Fatalf("beneficiary should default to the deployer")
	}
	if len(call.To) != 0 {
		t.Fatalf("deploy must not address a target")
	}
}

func TestRejectedCallPrintsReason(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	withFakeRPC(t, func(method string, _ []interface{}) (interface{}, error) {
		if method == "ledger_getNonce" {
			return uint64(0), nil
		}
		return nil, &rpc.RPCError{Code: -32003, Message: "call rejected", Data: rpc.ReceiptJSON{Sequence: 4, Status: "rejected", Reason: "escrow: not sealed"}}
	})
	contract := crypto.FromArray([20]byte{0xEE}).String()
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "deliver", "--key", keyPath, "--contract", contract}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if got := stderr.String(); !strings.Contains(got, "Call rejected (sequence 4): escrow: not sealed") {
		t.Fatalf("unexpected stderr: %s", got)
	}
}

func TestRPCErrorsAreReported(t *testing.T) {
	withFakeRPC(t, func(string, []interface{}) (interface{}, error) {
		return nil, &rpc.RPCError{Code: -32004, Message: "escrow not found"}
	})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "get", crypto.FromArray([20]byte{3}).String()}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if got := stderr.String(); !strings.Contains(got, "RPC error -32004: escrow not found") {
		t.Fatalf("unexpected stderr: %s", got)
	}
}

func TestArgumentValidationFailsBeforeRPC(t *testing.T) {
	fake := withFakeRPC(t, func(method string, _ []interface{}) (interface{}, error) {
		t.Fatalf("unexpected RPC %s", method)
		return nil, nil
	})
	contract := crypto.FromArray([20]byte{0xEE}).String()
	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"bogus"}, want: "Unknown command"},
		{args: []string{"escrow", "cancel"}, want: "Unknown escrow subcommand"},
		{args: []string{"auction"}, want: "Usage: custody-cli auction"},
		{args: []string{"balance"}, want: "exactly one address"},
		{args: []string{"balance", "not-an-address"}, want: "Error:"},
		{args: []string{"transfer", "--amount", "1"}, want: "--to is required"},
		{args: []string{"transfer", "--to", contract, "--amount", "1.5"}, want: "--amount"},
		{args: []string{"transfer", "--to", contract, "--amount", "1"}, want: "--key is required"},
		{args: []string{"escrow", "deploy", "--buyer", contract}, want: "--price"},
		{args: []string{"auction", "deploy", "--bid-deadline", "200"}, want: "--reveal-deadline are required"},
		{args: []string{"auction", "deploy", "--bid-deadline", "200", "--reveal-deadline", "100"}, want: "must be after"},
		{args: []string{"auction", "bid", "--contract", contract, "--commitment", "0x01", "--nonce", "x"}, want: "cannot be combined"},
		{args: []string{"auction", "bid", "--contract", contract, "--commitment", "0x01"}, want: "32-byte hex"},
		{args: []string{"auction", "reveal", "--contract", contract, "--amount", "3"}, want: "--nonce is required"},
		{args: []string{"commitment", "--amount", "3", "--nonce", strings.Repeat("x", 40)}, want: "--nonce"},
		{args: []string{"admin", "advance-time", "0"}, want: "at least one second"},
		{args: []string{"admin", "pause"}, want: "module name"},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(tc.args, &stdout, &stderr); code != 1 {
			t.Fatalf("%v: expected exit 1, got %d", tc.args, code)
		}
		if !strings.Contains(stderr.String(), tc.want) {
			t.Fatalf("%v: expected stderr to contain %q, got %q", tc.args, tc.want, stderr.String())
		}
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no RPC calls, got %+v", fake.calls)
	}
}

func TestAdminCommandsSendGuardedMethods(t *testing.T) {
	fake := withFakeRPC(t, func(method string, params []interface{}) (interface{}, error) {
		switch method {
		case "ledger_advanceTime":
			return rpc.TimeJSON{Timestamp: 1_000 + params[0].(int64)}, nil
		case "module_setPaused":
			return map[string]interface{}{"paused": []string{"auction"}}, nil
		}
		return nil, &rpc.RPCError{Code: -32601, Message: "method not found"}
	})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"admin", "advance-time", "1h"}, &stdout, &stderr); code != 0 {
		t.Fatalf("advance-time exited %d: %s", code, stderr.String())
	}
	if rec := fake.find("ledger_advanceTime"); rec == nil || rec.params[0].(int64) != 3600 {
		t.Fatalf("expected a one hour advance, got %+v", fake.calls)
	}
	if code := run([]string{"admin", "pause", "auction"}, &stdout, &stderr); code != 0 {
		t.Fatalf("pause exited %d: %s", code, stderr.String())
	}
	rec := fake.find("module_setPaused")
	if rec == nil || rec.params[0] != "auction" || rec.params[1] != true {
		t.Fatalf("unexpected pause call %+v", rec)
	}
}

func TestAdminTokenRequiresSecret(t *testing.T) {
	t.Setenv("CUSTODY_TEST_SECRET", "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"admin", "token", "--secret-env", "CUSTODY_TEST_SECRET"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure without secret, got %d", code)
	}
	t.Setenv("CUSTODY_TEST_SECRET", "s3cret-signing-key")
	stdout.Reset()
	if code := run([]string{"admin", "token", "--secret-env", "CUSTODY_TEST_SECRET", "--ttl", "5m"}, &stdout, &stderr); code != 0 {
		t.Fatalf("token exited %d: %s", code, stderr.String())
	}
	if parts := strings.Split(strings.TrimSpace(stdout.String()), "."); len(parts) != 3 {
		t.Fatalf("expected a compact JWT, got %q", stdout.String())
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	prevEndpoint, prevToken := rpcEndpoint, rpcAuthToken
	t.Cleanup(func() { rpcEndpoint, rpcAuthToken = prevEndpoint, prevToken })

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "balance", "--token=abc", "addr"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if rpcEndpoint != "http://node:9000" || rpcAuthToken != "abc" {
		t.Fatalf("unexpected globals %q %q", rpcEndpoint, rpcAuthToken)
	}
	if strings.Join(rest, " ") != "balance addr" {
		t.Fatalf("unexpected remaining args %v", rest)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}

func TestPassphraseFileFlagUnlocksKeystore(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyPath := filepath.Join(dir, "dealer.json")
	if err := crypto.WriteKeystore(keyPath, key, "dealer-secret", crypto.ScryptLight); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	passPath := filepath.Join(dir, "dealer.pass")
	if err := os.WriteFile(passPath, []byte("dealer-secret\n"), 0o600); err != nil {
		t.Fatalf("write pass file: %v", err)
	}

	prevSource, prevPass := passSource, keyPassphrase
	passSource = passphrase.NewSource("CUSTODY_TEST_UNSET_PASS", "")
	keyPassphrase = passSource.Unlock
	t.Cleanup(func() { passSource, keyPassphrase = prevSource, prevPass })

	rest, err := applyGlobalFlags([]string{"--passphrase-file=" + passPath, "address", "--key", keyPath})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := run(rest, &stdout, &stderr); code != 0 {
		t.Fatalf("address exited %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), key.PubKey().Address().String()) {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}
