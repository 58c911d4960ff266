package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/coldbell/slab/backend/internal/exchange"
)

var errInvalidArg = errors.New("invalid argument")

var priceScale = decimal.New(1, 6)

func jsonOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a header row and rows aligned on tabs.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

type sendOutput struct {
	Label     string   `json:"label"`
	OK        bool     `json:"ok"`
	Signature string   `json:"signature,omitempty"`
	Slot      uint64   `json:"slot,omitempty"`
	Stage     string   `json:"stage,omitempty"`
	Error     string   `json:"error,omitempty"`
	Code      *uint32  `json:"code,omitempty"`
	Hint      string   `json:"hint,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

func newSendOutput(res exchange.Result) sendOutput {
	out := sendOutput{Label: res.Label, OK: res.OK(), Slot: res.Slot}
	if !res.Signature.IsZero() {
		out.Signature = res.Signature.String()
	}
	if res.Err != nil {
		out.Stage = string(res.Err.Stage)
		out.Error = res.Err.Error()
		out.Logs = res.Err.Logs
		if res.Err.Program != nil {
			code := res.Err.Program.Code
			out.Code = &code
			out.Hint = res.Err.Program.Hint
		}
	}
	return out
}

// send builds, submits and reports one transaction.
func send(ctx context.Context, client *exchange.Client, build func() (exchange.UnsignedTx, error)) (exchange.Result, error) {
	utx, err := build()
	if err != nil {
		return exchange.Result{}, err
	}
	if clientCfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, clientCfg.TxTimeout)
		defer cancel()
	}
	res := client.SendTransaction(ctx, utx)
	if err := reportSend(os.Stdout, res); err != nil {
		return res, err
	}
	return res, res.AsError()
}

func reportSend(w io.Writer, res exchange.Result) error {
	out := newSendOutput(res)
	if jsonOutput() {
		return printJSON(w, out)
	}
	if out.OK {
		_, err := fmt.Fprintf(w, "%s confirmed\n  signature: %s\n  slot: %d\n", out.Label, out.Signature, out.Slot)
		return err
	}
	fmt.Fprintf(w, "%s failed at %s\n  error: %s\n", out.Label, out.Stage, out.Error)
	if out.Hint != "" {
		fmt.Fprintf(w, "  hint: %s\n", out.Hint)
	}
	for _, line := range out.Logs {
		fmt.Fprintf(w, "  | %s\n", line)
	}
	return nil
}

func reportSaga(w io.Writer, report exchange.SagaReport) error {
	if jsonOutput() {
		return printJSON(w, report)
	}
	rows := make([][]string, 0, len(report.Steps))
	for _, step := range report.Steps {
		sig := "-"
		if !step.Signature.IsZero() {
			sig = step.Signature.String()
		}
		rows = append(rows, []string{step.Name, string(step.Status), sig})
	}
	fmt.Fprintf(w, "%s:\n", report.Name)
	return printTable(w, []string{"STEP", "STATUS", "SIGNATURE"}, rows)
}

func parseIndex(raw string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: account index %q", errInvalidArg, raw)
	}
	return uint16(v), nil
}

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", errInvalidArg, raw)
	}
	return v, nil
}

// parseSize accepts a signed integer in base units; positive buys.
func parseSize(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10)
	if !ok || v.Sign() == 0 {
		return nil, fmt.Errorf("%w: size %q", errInvalidArg, raw)
	}
	return v, nil
}

// parsePriceE6 turns a decimal price such as "1.25" into 1250000.
func parsePriceE6(raw string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: price %q", errInvalidArg, raw)
	}
	scaled := d.Mul(priceScale)
	if scaled.IsNegative() || !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: price %q must be non-negative with at most 6 decimals", errInvalidArg, raw)
	}
	if !scaled.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: price %q out of range", errInvalidArg, raw)
	}
	return scaled.BigInt().Uint64(), nil
}

func formatPriceE6(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -6).String()
}
