package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"custodychain/rpc"
)

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
	switch args[0] {
	case "token":
		return runAdminToken(args[1:], stdout, stderr)
	case "advance-time":
		return runAdvanceTime(args[1:], stdout, stderr)
	case "pause":
		return runSetPaused(args[1:], true, stdout, stderr)
	case "resume":
		return runSetPaused(args[1:], false, stdout, stderr)
	case "paused":
		var modules []string
		if err := callRPC("ledger_pausedModules", &modules); err != nil {
			return handleRPCError(stderr, err)
		}
		writeJSON(stdout, modules)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func adminUsage() string {
	return strings.Join([]string{
		"Usage: custody-cli admin <subcommand>",
		"",
		"  token [--secret-env NAME] [--issuer ISS] [--audience AUD] [--ttl 1h]",
		"  advance-time <seconds|duration>",
		"  pause <escrow|auction>",
		"  resume <escrow|auction>",
		"  paused",
		"",
		"Guarded subcommands send the bearer token from --token or " + rpcTokenEnv + ".",
	}, "\n")
}

func runAdminToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin token", stderr)
	secretEnv := fs.String("secret-env", "CUSTODY_JWT_SECRET", "environment variable holding the node's JWT secret")
	issuer := fs.String("issuer", "custodyd", "issuer claim expected by the node")
	audience := fs.String("audience", "", "audience claim expected by the node")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return printError(stderr, fmt.Sprintf("%s is not set", *secretEnv))
	}
	token, err := rpc.IssueAdminToken(secret, *issuer, *audience, *ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runAdvanceTime(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "advance-time requires a number of seconds or a duration")
	}
	seconds, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		dur, durErr := parseDuration(args[0])
		if durErr != nil {
			return printError(stderr, fmt.Sprintf("invalid advance %q", args[0]))
		}
		seconds = int64(dur / time.Second)
	}
	if seconds <= 0 {
		return printError(stderr, "advance must be at least one second")
	}
	var result rpc.TimeJSON
	if err := callRPC("ledger_advanceTime", &result, seconds); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, result)
	return 0
}

func runSetPaused(args []string, paused bool, stdout, stderr io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return printError(stderr, "a module name is required")
	}
	var result interface{}
	if err := callRPC("module_setPaused", &result, strings.TrimSpace(args[0]), paused); err != nil {
		return handleRPCError(stderr, err)
	}
	writeJSON(stdout, result)
	return 0
}
