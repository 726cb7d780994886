package uniswapv2

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// DefaultInitCodeHash is keccak256 of the UniswapV2Pair creation code
// deployed with the course factory on Hoodi. It differs from mainnet's
// 0x96e8ac42... because the pair was compiled locally.
var DefaultInitCodeHash = common.HexToHash("0x1445d203f13f60adfabc2036dbb0cd186371cf7ec9e16d576718b94109ab1991")

var (
	ErrIdenticalAddresses = errors.New("uniswapv2: identical addresses")
	ErrZeroAddress        = errors.New("uniswapv2: zero address")
)

// SortTokens orders two tokens the way the factory does (numerically
// ascending, which is also lower-case hex order).
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, ErrIdenticalAddresses
	}
	token0, token1 := tokenA, tokenB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
	}
	if token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return token0, token1, nil
}

// ComputePairAddress predicts the CREATE2 address of the pair for tokenA and
// tokenB: keccak256(0xff ++ factory ++ keccak256(token0 ++ token1) ++ initCodeHash)[12:].
func ComputePairAddress(factory, tokenA, tokenB common.Address, initCodeHash common.Hash) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes()), nil
}

// InitCodeHash returns keccak256 of a contract's creation bytecode, the
// value a factory's pairFor uses.
func InitCodeHash(creationCode []byte) common.Hash {
	return crypto.Keccak256Hash(creationCode)
}

// ComputeContractAddress returns the CREATE address for a deployment from
// sender at nonce: keccak256(rlp([sender, nonce]))[12:].
func ComputeContractAddress(sender common.Address, nonce uint64) common.Address {
	data, _ := rlp.EncodeToBytes([]any{sender, nonce})
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}
