// Package chain binds the miner to the colony network contracts over
// JSON-RPC: the network itself, its reputation mining cycles, and deployed
// PatriciaTree contracts used as a remote tree backend.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/log"
)

var (
	// ErrReadOnly is returned by state-changing calls on a binding that was
	// created without transaction options.
	ErrReadOnly = errors.New("chain: binding has no signer")
	// ErrTxFailed is returned when a mined transaction has a failed status.
	ErrTxFailed = errors.New("chain: transaction failed")
	// ErrUnexpectedOutput is returned when a call decodes to the wrong shape.
	ErrUnexpectedOutput = errors.New("chain: unexpected call output")
	// ErrNotAuthorized is returned when asked to sign for a foreign account.
	ErrNotAuthorized = errors.New("chain: not authorized to sign for account")
)

// Backend is what the bindings need from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// NewTransactOpts returns transaction options that sign with key for the
// given chain.
func NewTransactOpts(key *ecdsa.PrivateKey, chainID *big.Int) *bind.TransactOpts {
	from := crypto.PubkeyToAddress(key.PublicKey)
	signer := gethtypes.LatestSignerForChainID(chainID)
	return &bind.TransactOpts{
		From: from,
		Signer: func(addr common.Address, tx *gethtypes.Transaction) (*gethtypes.Transaction, error) {
			if addr != from {
				return nil, errors.Wrapf(ErrNotAuthorized, "%s", addr.Hex())
			}
			return gethtypes.SignTx(tx, signer, key)
		},
	}
}

type contract struct {
	address common.Address
	backend Backend
	bound   *bind.BoundContract
	opts    *bind.TransactOpts
	log     *log.Logger
}

func newContract(address common.Address, parsed abi.ABI, backend Backend, opts *bind.TransactOpts, logger *log.Logger) *contract {
	return &contract{
		address: address,
		backend: backend,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		opts:    opts,
		log:     logger.With("contract", address.Hex()),
	}
}

func (c *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	return out, nil
}

// transact sends method and waits for it to be mined.
func (c *contract) transact(ctx context.Context, method string, args ...any) error {
	if c.opts == nil {
		return errors.Wrap(ErrReadOnly, method)
	}
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, method, args...)
	if err != nil {
		return errors.Wrapf(err, "send %s", method)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx.Hash())
	if err != nil {
		return errors.Wrapf(err, "wait for %s tx %s", method, tx.Hash().Hex())
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return errors.Wrapf(ErrTxFailed, "%s tx %s", method, tx.Hash().Hex())
	}
	c.log.Debug("transaction mined", "method", method, "tx", tx.Hash().Hex(), "gas", receipt.GasUsed)
	return nil
}

func outAt[T any](out []any, i int) (T, error) {
	var zero T
	if i >= len(out) {
		return zero, errors.Wrapf(ErrUnexpectedOutput, "missing output %d", i)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, errors.Wrapf(ErrUnexpectedOutput, "output %d is %T", i, out[i])
	}
	return v, nil
}

// isRevert reports whether err is the node rejecting a call at execution
// time, as opposed to a transport or decoding failure.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "invalid opcode")
}
