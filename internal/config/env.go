package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// envReader reads typed settings and keeps the first error, so a loader can
// read every field and check once at the end.
type envReader struct {
	err error
}

func (r *envReader) Err() error { return r.err }

func read[T any](r *envReader, key string, fallback T, parse func(string) (T, error)) T {
	raw := lookup(key)
	if raw == "" || r.err != nil {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return fallback
	}
	return v
}

func (r *envReader) String(key, fallback string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) Pubkey(key string) solana.PublicKey {
	return read(r, key, solana.PublicKey{}, solana.PublicKeyFromBase58)
}

// PubkeyList reads comma separated keys, dropping repeats.
func (r *envReader) PubkeyList(key string) []solana.PublicKey {
	return read(r, key, []solana.PublicKey(nil), func(raw string) ([]solana.PublicKey, error) {
		var out []solana.PublicKey
		seen := map[solana.PublicKey]bool{}
		for _, part := range splitList(raw) {
			pk, err := solana.PublicKeyFromBase58(part)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", part, err)
			}
			if !seen[pk] {
				seen[pk] = true
				out = append(out, pk)
			}
		}
		return out, nil
	})
}

func (r *envReader) Commitment(key string, fallback rpc.CommitmentType) rpc.CommitmentType {
	return read(r, key, fallback, func(raw string) (rpc.CommitmentType, error) {
		switch c := rpc.CommitmentType(strings.ToLower(raw)); c {
		case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
			return c, nil
		}
		return "", fmt.Errorf("%q (expected processed|confirmed|finalized)", raw)
	})
}

// Duration rejects zero and negative values.
func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	return read(r, key, fallback, func(raw string) (time.Duration, error) {
		d, err := time.ParseDuration(raw)
		if err == nil && d <= 0 {
			err = fmt.Errorf("must be > 0")
		}
		return d, err
	})
}

// PositiveInt rejects zero and negative values.
func (r *envReader) PositiveInt(key string, fallback int) int {
	return read(r, key, fallback, func(raw string) (int, error) {
		v, err := strconv.Atoi(raw)
		if err == nil && v <= 0 {
			err = fmt.Errorf("must be > 0")
		}
		return v, err
	})
}

func (r *envReader) Uint64(key string, fallback uint64) uint64 {
	return read(r, key, fallback, func(raw string) (uint64, error) {
		return strconv.ParseUint(raw, 10, 64)
	})
}

func (r *envReader) Uint32(key string, fallback uint32) uint32 {
	return read(r, key, fallback, func(raw string) (uint32, error) {
		v, err := strconv.ParseUint(raw, 10, 32)
		return uint32(v), err
	})
}

// OptionalUint is nil when the key is unset.
func (r *envReader) OptionalUint(key string) *uint {
	return read(r, key, (*uint)(nil), func(raw string) (*uint, error) {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		out := uint(v)
		return &out, nil
	})
}

func (r *envReader) Bool(key string, fallback bool) bool {
	return read(r, key, fallback, strconv.ParseBool)
}

func (r *envReader) List(key string, fallback []string) []string {
	if parts := splitList(lookup(key)); len(parts) > 0 {
		return parts
	}
	return fallback
}

// Path expands a leading ~ to the home directory.
func (r *envReader) Path(key, fallback string) string {
	return read(r, key, expandHome(fallback), func(raw string) (string, error) {
		return expandHome(raw), nil
	})
}

// Log reads <PREFIX>_LOG_* with LOG_* as the shared fallback.
func (r *envReader) Log(prefix, serviceName string) LogConfig {
	get := func(name, fallback string) string {
		return r.String(prefix+"_LOG_"+name, r.String("LOG_"+name, fallback))
	}
	return LogConfig{
		Level:    get("LEVEL", "info"),
		Format:   get("FORMAT", "text"),
		Output:   get("OUTPUT", "console"),
		FilePath: get("FILE", filepath.Join(".docker", serviceName, serviceName+".log")),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
