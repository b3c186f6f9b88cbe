package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Chain identifies the network a token contract lives on.
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainBase   Chain = "base"
)

// ParseChain validates a chain name. An empty name is returned as-is so the
// caller can fall back to DetectChain.
func ParseChain(s string) (Chain, error) {
	switch c := Chain(strings.ToLower(strings.TrimSpace(s))); c {
	case ChainSolana, ChainBase, "":
		return c, nil
	default:
		return "", fmt.Errorf("%w: unsupported chain %q", ErrInvalidInput, s)
	}
}

// DetectChain guesses the chain from the address format.
func DetectChain(addr string) Chain {
	if strings.HasPrefix(strings.TrimSpace(addr), "0x") {
		return ChainBase
	}
	return ChainSolana
}

// Mints that show up in signal messages but are never trade targets.
var ignoredSolanaMints = map[string]bool{
	"So11111111111111111111111111111111111111112":  true, // wrapped SOL
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
	"11111111111111111111111111111111":             true, // system program
}

// NormalizeAddress validates addr for chain and returns its canonical form.
// Solana mints must decode to 32 bytes; EVM addresses are lower-cased.
func NormalizeAddress(chain Chain, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty contract address", ErrInvalidInput)
	}
	switch chain {
	case ChainSolana:
		raw, err := base58.Decode(addr)
		if err != nil || len(raw) != 32 {
			return "", fmt.Errorf("%w: invalid solana mint %q", ErrInvalidInput, addr)
		}
		if ignoredSolanaMints[addr] {
			return "", fmt.Errorf("%w: %q is not a tradable mint", ErrInvalidInput, addr)
		}
		return addr, nil
	case ChainBase:
		if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
			return "", fmt.Errorf("%w: invalid evm address %q", ErrInvalidInput, addr)
		}
		a := common.HexToAddress(addr)
		if a == (common.Address{}) {
			return "", fmt.Errorf("%w: zero address", ErrInvalidInput)
		}
		return strings.ToLower(a.Hex()), nil
	default:
		return "", fmt.Errorf("%w: unsupported chain %q", ErrInvalidInput, chain)
	}
}
