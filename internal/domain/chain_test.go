package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress_Solana(t *testing.T) {
	const mint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

	got, err := NormalizeAddress(ChainSolana, "  "+mint+" ")
	require.NoError(t, err)
	assert.Equal(t, mint, got)

	_, err = NormalizeAddress(ChainSolana, "not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Valid base58 but too short to be a mint.
	_, err = NormalizeAddress(ChainSolana, "3yZe7d")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeAddress(ChainSolana, "So11111111111111111111111111111111111111112")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeAddress_Base(t *testing.T) {
	got, err := NormalizeAddress(ChainBase, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	require.NoError(t, err)
	assert.Equal(t, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", got)

	_, err = NormalizeAddress(ChainBase, "833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeAddress(ChainBase, "0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeAddress(ChainBase, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseChain(t *testing.T) {
	c, err := ParseChain("SOLANA")
	require.NoError(t, err)
	assert.Equal(t, ChainSolana, c)

	c, err = ParseChain("")
	require.NoError(t, err)
	assert.Equal(t, Chain(""), c)

	_, err = ParseChain("bsc")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, ChainBase, DetectChain("0xabc"))
	assert.Equal(t, ChainSolana, DetectChain("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"))
}
