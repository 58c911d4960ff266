package progerr

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrorFromLogs(t *testing.T) {
	programID := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name string
		logs []string
		code uint32
		want string
	}{
		{
			name: "hex marker",
			logs: []string{
				"Program " + programID + " invoke [1]",
				"Program log: Instruction: Trade",
				"Program " + programID + " failed: custom program error: 0xe",
			},
			code: EngineUndercollateralized,
			want: "EngineUndercollateralized",
		},
		{
			name: "decimal marker",
			logs: []string{"Program " + programID + " failed: custom program error: 6"},
			code: OracleStale,
			want: "OracleStale",
		},
		{
			name: "last marker wins",
			logs: []string{
				"Program X failed: custom program error: 0x1",
				"Program Y failed: custom program error: 0x2",
			},
			code: AlreadyInitialized,
			want: "AlreadyInitialized",
		},
		{
			name: "unknown code",
			logs: []string{"Program " + programID + " failed: custom program error: 0x1770"},
			code: 0x1770,
			want: UnknownName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseErrorFromLogs(tt.logs)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestHints(t *testing.T) {
	got := ParseErrorFromLogs([]string{"Program x failed: custom program error: 0xe"})
	require.NotNil(t, got)
	assert.True(t, got.Known())
	assert.NotEmpty(t, got.Hint)
	assert.Contains(t, got.Error(), "EngineUndercollateralized")

	unknown := Lookup(9999)
	assert.False(t, unknown.Known())
	assert.Empty(t, unknown.Hint)
}

func TestNoMarker(t *testing.T) {
	assert.Nil(t, ParseErrorFromLogs(nil))
	assert.Nil(t, ParseErrorFromLogs([]string{
		"Program 11111111111111111111111111111111 invoke [1]",
		"Program 11111111111111111111111111111111 failed: insufficient lamports",
	}))
}

func TestParseErrorFromLogsFor(t *testing.T) {
	ours := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	logs := []string{"Program " + other.String() + " failed: custom program error: 0x1"}
	assert.Nil(t, ParseErrorFromLogsFor(ours, logs))

	logs = []string{"Program " + ours.String() + " failed: custom program error: 0x1"}
	got := ParseErrorFromLogsFor(ours, logs)
	require.NotNil(t, got)
	assert.Equal(t, "InvalidVersion", got.Name)
}
