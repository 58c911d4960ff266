package pda

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	vaultSeed = []byte("vault")
	lpSeed    = []byte("lp")
)

// DeriveVaultAuthority is the program-owned signer for the collateral vault.
func DeriveVaultAuthority(programID, slab solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{vaultSeed, slab.Bytes()}, programID)
}

// DeriveLpPda is the address the program signs with when it calls an LP's matcher.
func DeriveLpPda(programID, slab solana.PublicKey, lpIdx uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{lpSeed, slab.Bytes(), u16LE(lpIdx)}, programID)
}

// DeriveVaultTokenAccount is the vault authority's associated token account for mint.
func DeriveVaultTokenAccount(programID, slab, mint solana.PublicKey) (solana.PublicKey, error) {
	authority, _, err := DeriveVaultAuthority(programID, slab)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(authority, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive vault token account: %w", err)
	}
	return ata, nil
}

func MustDeriveVaultAuthority(programID, slab solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveVaultAuthority(programID, slab)
	if err != nil {
		panic(fmt.Errorf("derive vault authority PDA: %w", err))
	}
	return pk
}

func MustDeriveLpPda(programID, slab solana.PublicKey, lpIdx uint16) solana.PublicKey {
	pk, _, err := DeriveLpPda(programID, slab, lpIdx)
	if err != nil {
		panic(fmt.Errorf("derive lp PDA: %w", err))
	}
	return pk
}

func u16LE(value uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}
