package liquidity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/dexkit/internal/uniswapv2"
)

// ErrNoBytecode is returned for artifacts of interfaces or abstract contracts.
var ErrNoBytecode = errors.New("artifact has no bytecode")

// Artifact is the subset of a Hardhat compilation artifact the scripts use.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     hexutil.Bytes   `json:"bytecode"`
}

// LoadArtifact reads a Hardhat artifact JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if len(a.Bytecode) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoBytecode)
	}
	return &a, nil
}

// InitCodeHash is keccak256 of the creation bytecode. For UniswapV2Pair it
// is the value the factory's pairFor must be built with.
func (a *Artifact) InitCodeHash() common.Hash {
	return uniswapv2.InitCodeHash(a.Bytecode)
}

// GenInitCodeHash loads the pair artifact at path and writes its bytecode
// length (as a 0x-prefixed hex string) and init code hash to out.
func GenInitCodeHash(path string, out io.Writer) (common.Hash, error) {
	art, err := LoadArtifact(path)
	if err != nil {
		return common.Hash{}, err
	}
	name := art.ContractName
	if name == "" {
		name = "Pair"
	}
	hash := art.InitCodeHash()
	fmt.Fprintf(out, "%s bytecode length: %d\n", name, 2+2*len(art.Bytecode))
	fmt.Fprintf(out, "%s init code hash: %s\n", name, hash.Hex())
	return hash, nil
}
