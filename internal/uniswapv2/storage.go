package uniswapv2

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UniswapV2Pair storage layout:
//
//	slot 6: token0
//	slot 7: token1
//	slot 8: reserve0 (uint112) | reserve1 (uint112) << 112 | blockTimestampLast (uint32) << 224
const (
	SlotToken0   = 6
	SlotToken1   = 7
	SlotReserves = 8
)

var mask112 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

// StorageReader reads raw contract storage. rpc.Client satisfies it.
type StorageReader interface {
	GetStorageAt(ctx context.Context, address string, slot uint64) ([]byte, error)
}

// PairState is a pair's tokens and reserves read straight from storage.
type PairState struct {
	Token0 common.Address
	Token1 common.Address
	Reserves
}

// DecodeReservesSlot unpacks the reserves word (slot 8).
func DecodeReservesSlot(word []byte) (Reserves, error) {
	if len(word) != 32 {
		return Reserves{}, fmt.Errorf("reserves slot must be 32 bytes, got %d", len(word))
	}
	full := new(big.Int).SetBytes(word)
	r0 := new(big.Int).And(full, mask112)
	r1 := new(big.Int).Rsh(full, 112)
	r1.And(r1, mask112)
	ts := new(big.Int).Rsh(full, 224)
	return Reserves{Reserve0: r0, Reserve1: r1, BlockTimestampLast: uint32(ts.Uint64())}, nil
}

// ReadPairStateFromStorage reads token0, token1 and reserves with
// eth_getStorageAt, for providers that serve storage but not eth_call
// (or to cross-check getReserves).
func ReadPairStateFromStorage(ctx context.Context, r StorageReader, pair common.Address) (*PairState, error) {
	read := func(slot uint64) ([]byte, error) {
		word, err := r.GetStorageAt(ctx, pair.Hex(), slot)
		if err != nil {
			return nil, fmt.Errorf("read slot %d of %s: %w", slot, pair.Hex(), err)
		}
		return common.LeftPadBytes(word, 32), nil
	}

	w0, err := read(SlotToken0)
	if err != nil {
		return nil, err
	}
	w1, err := read(SlotToken1)
	if err != nil {
		return nil, err
	}
	wr, err := read(SlotReserves)
	if err != nil {
		return nil, err
	}

	reserves, err := DecodeReservesSlot(wr)
	if err != nil {
		return nil, err
	}
	return &PairState{
		Token0:   common.BytesToAddress(w0),
		Token1:   common.BytesToAddress(w1),
		Reserves: reserves,
	}, nil
}
