package common

import "github.com/gagliardetto/solana-go"

var (
	TokenProgramID       = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	ATAProgramID         = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	SysvarInstructionsID = solana.MustPublicKeyFromBase58("Sysvar1nstructions1111111111111111111111111")

	LendingAuthoritySeed = "lending_market_authority"
	ObligationSeed       = "obligation"
)
