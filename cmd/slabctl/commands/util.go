package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/pda"
	"github.com/coldbell/slab/backend/internal/progerr"
)

var (
	errorCode int64
	pdaMint   string
	pdaLP     int
)

var DecodeLogsCmd = &cobra.Command{
	Use:   "decode-logs [log line...]",
	Short: "Translate program logs or an error code into a named error",
	Long: `Reads transaction log lines from the arguments, or from stdin when none
are given, and prints the exchange program error they report. With --code the
numeric error code is looked up directly.`,
	RunE: decodeLogs,
}

var PDACmd = &cobra.Command{
	Use:   "pda",
	Short: "Print the program derived addresses of the configured market",
	Args:  cobra.NoArgs,
	RunE:  showPDAs,
}

func init() {
	DecodeLogsCmd.Flags().Int64Var(&errorCode, "code", -1, "Custom error code to look up")
	PDACmd.Flags().StringVar(&pdaMint, "mint", "", "Collateral mint for the vault token account")
	PDACmd.Flags().IntVar(&pdaLP, "lp", -1, "LP slot index to derive the matcher signer for")
}

type decodedError struct {
	Found bool   `json:"found"`
	Code  uint32 `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
	Hint  string `json:"hint,omitempty"`
	Known bool   `json:"known"`
}

func decodeLogs(cmd *cobra.Command, args []string) error {
	var perr *progerr.ProgramError
	if errorCode >= 0 {
		if errorCode > int64(^uint32(0)) {
			return fmt.Errorf("%w: code %d", errInvalidArg, errorCode)
		}
		perr = progerr.Lookup(uint32(errorCode))
	} else {
		lines := args
		if len(lines) == 0 {
			var err error
			if lines, err = readLines(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		perr = parseLogs(clientCfg, lines)
	}
	return reportDecoded(cmd.OutOrStdout(), perr)
}

func parseLogs(cfg config.ClientConfig, lines []string) *progerr.ProgramError {
	if cfg.ProgramID.IsZero() {
		return progerr.ParseErrorFromLogs(lines)
	}
	return progerr.ParseErrorFromLogsFor(cfg.ProgramID, lines)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return lines, nil
}

func reportDecoded(w io.Writer, perr *progerr.ProgramError) error {
	out := decodedError{}
	if perr != nil {
		out = decodedError{Found: true, Code: perr.Code, Name: perr.Name, Hint: perr.Hint, Known: perr.Known()}
	}
	if jsonOutput() {
		return printJSON(w, out)
	}
	if !out.Found {
		_, err := fmt.Fprintln(w, "no program error found")
		return err
	}
	rows := [][]string{
		{"code", fmt.Sprintf("%d (0x%x)", out.Code, out.Code)},
		{"name", out.Name},
	}
	if out.Hint != "" {
		rows = append(rows, []string{"hint", out.Hint})
	}
	return printTable(w, []string{"FIELD", "VALUE"}, rows)
}

type derivedAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Bump    *uint8 `json:"bump,omitempty"`
}

func derivePDAs(cfg config.ClientConfig, mint solana.PublicKey, lp int) ([]derivedAddress, error) {
	if err := cfg.RequireMarket(); err != nil {
		return nil, err
	}
	authority, bump, err := pda.DeriveVaultAuthority(cfg.ProgramID, cfg.Slab)
	if err != nil {
		return nil, fmt.Errorf("derive vault authority: %w", err)
	}
	out := []derivedAddress{{Name: "vault_authority", Address: authority.String(), Bump: &bump}}

	if !mint.IsZero() {
		vault, err := pda.DeriveVaultTokenAccount(cfg.ProgramID, cfg.Slab, mint)
		if err != nil {
			return nil, err
		}
		out = append(out, derivedAddress{Name: "vault_token_account", Address: vault.String()})
	}
	if lp >= 0 {
		if lp > int(^uint16(0)) {
			return nil, fmt.Errorf("%w: lp index %d", errInvalidArg, lp)
		}
		lpKey, lpBump, err := pda.DeriveLpPda(cfg.ProgramID, cfg.Slab, uint16(lp))
		if err != nil {
			return nil, fmt.Errorf("derive lp pda: %w", err)
		}
		out = append(out, derivedAddress{Name: "lp_pda_" + strconv.Itoa(lp), Address: lpKey.String(), Bump: &lpBump})
	}
	return out, nil
}

func showPDAs(cmd *cobra.Command, args []string) error {
	var mint solana.PublicKey
	if pdaMint != "" {
		var err error
		if mint, err = parseKey(pdaMint, "mint"); err != nil {
			return err
		}
	}
	addrs, err := derivePDAs(clientCfg, mint, pdaLP)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(os.Stdout, addrs)
	}
	rows := make([][]string, 0, len(addrs))
	for _, a := range addrs {
		bump := "-"
		if a.Bump != nil {
			bump = strconv.Itoa(int(*a.Bump))
		}
		rows = append(rows, []string{a.Name, a.Address, bump})
	}
	return printTable(os.Stdout, []string{"NAME", "ADDRESS", "BUMP"}, rows)
}
