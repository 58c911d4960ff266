package pda

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.NewWallet().PublicKey()

func TestDeriveVaultAuthority(t *testing.T) {
	slabA := solana.NewWallet().PublicKey()
	slabB := solana.NewWallet().PublicKey()

	a1, bump1, err := DeriveVaultAuthority(testProgramID, slabA)
	require.NoError(t, err)
	a2, bump2, err := DeriveVaultAuthority(testProgramID, slabA)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, bump1, bump2)

	expected, expectedBump, err := solana.FindProgramAddress([][]byte{[]byte("vault"), slabA.Bytes()}, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, expected, a1)
	assert.Equal(t, expectedBump, bump1)

	b, _, err := DeriveVaultAuthority(testProgramID, slabB)
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
	assert.Equal(t, a1, MustDeriveVaultAuthority(testProgramID, slabA))
}

func TestDeriveLpPda(t *testing.T) {
	slab := solana.NewWallet().PublicKey()

	lp0, _, err := DeriveLpPda(testProgramID, slab, 0)
	require.NoError(t, err)
	lp1, _, err := DeriveLpPda(testProgramID, slab, 1)
	require.NoError(t, err)
	assert.NotEqual(t, lp0, lp1)

	expected, _, err := solana.FindProgramAddress([][]byte{[]byte("lp"), slab.Bytes(), {0x01, 0x00}}, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, expected, lp1)
	assert.Equal(t, lp1, MustDeriveLpPda(testProgramID, slab, 1))
}

func TestDeriveVaultTokenAccount(t *testing.T) {
	slab := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ata, err := DeriveVaultTokenAccount(testProgramID, slab, mint)
	require.NoError(t, err)

	authority := MustDeriveVaultAuthority(testProgramID, slab)
	expected, _, err := solana.FindAssociatedTokenAddress(authority, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, ata)
}
