package progerr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ProgramError is an application-level failure reported by the exchange
// program through a custom error code.
type ProgramError struct {
	Code uint32
	Name string
	Hint string
}

func (e *ProgramError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("program error %d (0x%x) %s", e.Code, e.Code, e.Name)
	}
	return fmt.Sprintf("program error %d (0x%x) %s: %s", e.Code, e.Code, e.Name, e.Hint)
}

// Known reports whether the code is in the program's error table.
func (e *ProgramError) Known() bool {
	_, ok := names[e.Code]
	return ok
}

const (
	InvalidMagic uint32 = iota
	InvalidVersion
	AlreadyInitialized
	NotInitialized
	InvalidSlabLen
	InvalidOracleKey
	OracleStale
	OracleConfTooWide
	InvalidVaultAta
	InvalidMint
	ExpectedSigner
	ExpectedWritable
	OracleInvalid
	EngineInsufficientBalance
	EngineUndercollateralized
	EngineUnauthorized
	EngineInvalidMatchingEngine
	EnginePnlNotWarmedUp
	EngineOverflow
	EngineAccountNotFound
	EngineNotAnLPAccount
	EnginePositionSizeMismatch
	EngineRiskReductionOnlyMode
	EngineAccountKindMismatch
	InvalidTokenAccount
	InvalidTokenProgram
	InvalidConfigParam
)

const UnknownName = "Unknown"

var names = map[uint32]string{
	InvalidMagic:                "InvalidMagic",
	InvalidVersion:              "InvalidVersion",
	AlreadyInitialized:          "AlreadyInitialized",
	NotInitialized:              "NotInitialized",
	InvalidSlabLen:              "InvalidSlabLen",
	InvalidOracleKey:            "InvalidOracleKey",
	OracleStale:                 "OracleStale",
	OracleConfTooWide:           "OracleConfTooWide",
	InvalidVaultAta:             "InvalidVaultAta",
	InvalidMint:                 "InvalidMint",
	ExpectedSigner:              "ExpectedSigner",
	ExpectedWritable:            "ExpectedWritable",
	OracleInvalid:               "OracleInvalid",
	EngineInsufficientBalance:   "EngineInsufficientBalance",
	EngineUndercollateralized:   "EngineUndercollateralized",
	EngineUnauthorized:          "EngineUnauthorized",
	EngineInvalidMatchingEngine: "EngineInvalidMatchingEngine",
	EnginePnlNotWarmedUp:        "EnginePnlNotWarmedUp",
	EngineOverflow:              "EngineOverflow",
	EngineAccountNotFound:       "EngineAccountNotFound",
	EngineNotAnLPAccount:        "EngineNotAnLPAccount",
	EnginePositionSizeMismatch:  "EnginePositionSizeMismatch",
	EngineRiskReductionOnlyMode: "EngineRiskReductionOnlyMode",
	EngineAccountKindMismatch:   "EngineAccountKindMismatch",
	InvalidTokenAccount:         "InvalidTokenAccount",
	InvalidTokenProgram:         "InvalidTokenProgram",
	InvalidConfigParam:          "InvalidConfigParam",
}

var hints = map[uint32]string{
	InvalidMagic:                "account is not a slab or was never initialized",
	InvalidVersion:              "slab layout version is newer than this client",
	AlreadyInitialized:          "market or account already exists; skip this step",
	NotInitialized:              "initialize the market before using it",
	InvalidSlabLen:              "slab account was created with the wrong size",
	InvalidOracleKey:            "oracle account does not match the market configuration",
	OracleStale:                 "oracle price is older than the allowed staleness; push a fresh price or crank",
	OracleConfTooWide:           "oracle confidence interval exceeds the market filter",
	InvalidVaultAta:             "vault token account does not match the market",
	InvalidMint:                 "token account mint does not match the collateral mint",
	ExpectedSigner:              "a required signer is missing from the transaction",
	ExpectedWritable:            "an account that must be writable was passed read-only",
	EngineInsufficientBalance:   "not enough collateral for this withdrawal or fee",
	EngineUndercollateralized:   "position would exceed the initial margin requirement; deposit more or reduce size",
	EngineUnauthorized:          "signer is not the owner or admin for this action",
	EngineInvalidMatchingEngine: "matcher program or context does not match the LP",
	EnginePnlNotWarmedUp:        "profit is still warming up and cannot be withdrawn yet",
	EngineAccountNotFound:       "slot index is not in use; refresh the slab",
	EngineNotAnLPAccount:        "counterparty slot is not an LP",
	EnginePositionSizeMismatch:  "close the open position before closing the account",
	EngineRiskReductionOnlyMode: "market only accepts trades that reduce risk",
	EngineAccountKindMismatch:   "slot kind does not match the instruction",
	InvalidTokenAccount:         "token account is not owned by the expected wallet",
	InvalidTokenProgram:         "wrong token program passed",
	InvalidConfigParam:          "a market parameter is out of range",
}

// Lookup builds the decoded error for a code. Unknown codes keep their number
// with the name Unknown.
func Lookup(code uint32) *ProgramError {
	name, ok := names[code]
	if !ok {
		name = UnknownName
	}
	return &ProgramError{Code: code, Name: name, Hint: hints[code]}
}

var (
	customErrorRe   = regexp.MustCompile(`custom program error: (0x[0-9a-fA-F]+|\d+)`)
	programFailedRe = regexp.MustCompile(`^Program (\S+) failed: (.*)$`)
)

// ParseErrorFromLogs returns the last custom program error found in logs, or
// nil when no such marker exists.
func ParseErrorFromLogs(logs []string) *ProgramError {
	for i := len(logs) - 1; i >= 0; i-- {
		if code, ok := parseMarker(logs[i]); ok {
			return Lookup(code)
		}
	}
	return nil
}

// ParseErrorFromLogsFor is like ParseErrorFromLogs but only attributes
// failures whose "Program <id> failed" line names programID. Lines that carry
// the marker without a program prefix are still accepted.
func ParseErrorFromLogsFor(programID solana.PublicKey, logs []string) *ProgramError {
	want := programID.String()
	for i := len(logs) - 1; i >= 0; i-- {
		line := logs[i]
		code, ok := parseMarker(line)
		if !ok {
			continue
		}
		if m := programFailedRe.FindStringSubmatch(line); m != nil && m[1] != want {
			return nil
		}
		return Lookup(code)
	}
	return nil
}

func parseMarker(line string) (uint32, bool) {
	m := customErrorRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	base := 10
	if strings.HasPrefix(raw, "0x") {
		raw, base = raw[2:], 16
	}
	code, err := strconv.ParseUint(raw, base, 32)
	if err != nil {
		return 0, false
	}
	return uint32(code), true
}
