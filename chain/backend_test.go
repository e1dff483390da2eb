package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/trie/patricia"
)

// revertError mimics the error a node returns for a reverted call.
type revertError struct{ reason string }

func (e revertError) Error() string          { return "execution reverted: " + e.reason }
func (e revertError) ErrorData() interface{} { return e.reason }

type handler func(args []any) ([]any, error)

type fakeContract struct {
	abi      abi.ABI
	handlers map[string]handler
}

// fakeBackend serves calls and transactions from Go handlers keyed by ABI
// method name. Transactions are mined instantly.
type fakeBackend struct {
	mu        sync.Mutex
	contracts map[common.Address]*fakeContract
	receipts  map[common.Hash]*gethtypes.Receipt
	nonce     uint64
	sent      []string
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contracts: make(map[common.Address]*fakeContract),
		receipts:  make(map[common.Hash]*gethtypes.Receipt),
	}
}

func (b *fakeBackend) register(addr common.Address, parsed abi.ABI, handlers map[string]handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts[addr] = &fakeContract{abi: parsed, handlers: handlers}
}

func (b *fakeBackend) sentMethods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func (b *fakeBackend) dispatch(to *common.Address, data []byte) (string, []byte, error) {
	if to == nil || len(data) < 4 {
		return "", nil, errors.New("fake: bad message")
	}
	b.mu.Lock()
	c, ok := b.contracts[*to]
	b.mu.Unlock()
	if !ok {
		return "", nil, nil
	}
	m, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return m.Name, nil, err
	}
	h, ok := c.handlers[m.Name]
	if !ok {
		return m.Name, nil, revertError{"no handler for " + m.Name}
	}
	out, err := h(args)
	if err != nil {
		return m.Name, nil, err
	}
	packed, err := m.Outputs.Pack(out...)
	return m.Name, packed, err
}

func (b *fakeBackend) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.contracts[addr]; ok {
		return []byte{0x60}, nil
	}
	return nil, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	_, out, err := b.dispatch(msg.To, msg.Data)
	return out, err
}

func (b *fakeBackend) PendingCodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return b.CodeAt(ctx, addr, nil)
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(1)}, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(1), nil }
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 1_000_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	name, _, err := b.dispatch(tx.To(), tx.Data())
	status := gethtypes.ReceiptStatusSuccessful
	if err != nil {
		status = gethtypes.ReceiptStatusFailed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce++
	b.sent = append(b.sent, name)
	b.receipts[tx.Hash()] = &gethtypes.Receipt{Status: status, TxHash: tx.Hash(), GasUsed: 21000}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}

func (b *fakeBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- gethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("fake: subscriptions unsupported")
}

// patriciaHandlers serves a PatriciaTree contract from an in-process tree.
func patriciaHandlers(t *patricia.Tree) map[string]handler {
	return map[string]handler{
		"insert": func(args []any) ([]any, error) {
			t.Insert(args[0].([]byte), args[1].([]byte))
			return nil, nil
		},
		"getRootHash": func([]any) ([]any, error) {
			return []any{[32]byte(t.RootHash())}, nil
		},
		"getProof": func(args []any) ([]any, error) {
			mask, siblings, err := t.Proof(args[0].([]byte))
			if errors.Is(err, patricia.ErrKeyNotFound) {
				return nil, revertError{"key not found"}
			}
			if err != nil {
				return nil, err
			}
			out := make([][32]byte, len(siblings))
			for i, s := range siblings {
				out[i] = s
			}
			return []any{mask.ToBig(), out}, nil
		},
		"getImpliedRoot": func(args []any) ([]any, error) {
			raw := args[3].([][32]byte)
			siblings := make([]common.Hash, len(raw))
			for i, s := range raw {
				siblings[i] = s
			}
			mask := uint256.MustFromBig(args[2].(*big.Int))
			root, err := patricia.ImpliedRoot(args[0].([]byte), args[1].([]byte), mask, siblings)
			if err != nil {
				return nil, revertError{err.Error()}
			}
			return []any{[32]byte(root)}, nil
		},
	}
}

var testKey, _ = crypto.HexToECDSA("e5c050bb6bfdd9c29397b8fe6ed59ad2f7df83d6fd213b473f84b489205d9fc7")
