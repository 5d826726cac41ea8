// Package ledger performs the read-only chain calls the duplicate scanner
// needs: supply, index to id, token URI, latest block and mint logs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrInvalidAddress is returned for collection addresses that are not 20 byte hex.
var ErrInvalidAddress = errors.New("invalid collection address")

// erc721ABI covers the enumerable and metadata extensions used by the scanner.
const erc721ABI = `[
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenByIndex","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Reader is the read-only ledger surface. Implementations must be safe for concurrent use.
type Reader interface {
	TotalSupply(ctx context.Context, collection common.Address) (*big.Int, error)
	TokenByIndex(ctx context.Context, collection common.Address, index *big.Int) (*big.Int, error)
	TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int) (string, error)
	LatestBlock(ctx context.Context) (uint64, error)
	MintedTokenIDs(ctx context.Context, collection common.Address, fromBlock, toBlock uint64) ([]*big.Int, error)
}

// backend is the subset of ethclient.Client the Client uses.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Client implements Reader over a JSON-RPC endpoint.
type Client struct {
	backend backend
	abi     abi.ABI
	closer  func()
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("chain RPC URL is required")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing chain RPC: %w", err)
	}
	c, err := newClient(eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

func newClient(b backend) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing ERC-721 ABI: %w", err)
	}
	return &Client{backend: b, abi: parsed}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ParseAddress validates and parses a hex collection address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// TotalSupply returns the number of tokens the collection tracks.
func (c *Client) TotalSupply(ctx context.Context, collection common.Address) (*big.Int, error) {
	return c.callUint(ctx, collection, "totalSupply")
}

// TokenByIndex returns the token id at index. Collections without the
// enumerable extension revert.
func (c *Client) TokenByIndex(ctx context.Context, collection common.Address, index *big.Int) (*big.Int, error) {
	return c.callUint(ctx, collection, "tokenByIndex", index)
}

// TokenURI returns the metadata URI recorded for tokenID.
func (c *Client) TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, collection, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unexpected return type %T", out[0])
	}
	return uri, nil
}

// LatestBlock returns the current block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading block number: %w", err)
	}
	return n, nil
}

// MintedTokenIDs returns the token ids of Transfer events from the zero
// address in [fromBlock, toBlock]. Ids may repeat across calls.
func (c *Client) MintedTokenIDs(ctx context.Context, collection common.Address, fromBlock, toBlock uint64) ([]*big.Int, error) {
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{collection},
		Topics:    [][]common.Hash{{transferTopic}, {common.Hash{}}},
	})
	if err != nil {
		return nil, fmt.Errorf("filtering mint logs %d-%d: %w", fromBlock, toBlock, err)
	}

	ids := make([]*big.Int, 0, len(logs))
	for _, l := range logs {
		if id, ok := tokenIDFromLog(l); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// tokenIDFromLog reads the indexed token id of an ERC-721 Transfer. ERC-20
// transfers carry only three topics and are skipped.
func tokenIDFromLog(l types.Log) (*big.Int, bool) {
	if l.Removed || len(l.Topics) < 4 || l.Topics[0] != transferTopic {
		return nil, false
	}
	return new(big.Int).SetBytes(l.Topics[3].Bytes()), true
}

func (c *Client) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *Client) callUint(ctx context.Context, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return n, nil
}
