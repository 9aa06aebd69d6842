package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/snbhowmik/care-x/pkg/models"
)

// healthRecordABI covers the slice of the contract this core touches: the
// coarse grant/revoke entry points and the events they emit.
const healthRecordABI = `[
	{"type":"event","name":"DataShared","inputs":[
		{"name":"patient","type":"address","indexed":true},
		{"name":"doctor","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"DataUnshared","inputs":[
		{"name":"patient","type":"address","indexed":true},
		{"name":"doctor","type":"address","indexed":true}],"anonymous":false},
	{"type":"function","name":"grantDataAccess","stateMutability":"nonpayable",
		"inputs":[{"name":"_doctor","type":"address"}],"outputs":[]},
	{"type":"function","name":"revokeDataAccess","stateMutability":"nonpayable",
		"inputs":[{"name":"_doctor","type":"address"}],"outputs":[]}
]`

// Client talks to the health-record contract. It implements EventReader
// always and CommandSubmitter when constructed with a signing key.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	bound    *bind.BoundContract
	chainID  *big.Int
	key      *ecdsa.PrivateKey
}

// Config holds connection parameters for the ledger client.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// PrivateKey signs command transactions; leave empty for a read-only
	// client.
	PrivateKey string
}

// NewClient dials the RPC endpoint and prepares the contract binding.
func NewClient(cfg *Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(healthRecordABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	contract := common.HexToAddress(cfg.ContractAddress)
	c := &Client{
		eth:      eth,
		contract: contract,
		abi:      parsed,
		bound:    bind.NewBoundContract(contract, parsed, eth, eth, eth),
		chainID:  big.NewInt(cfg.ChainID),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		c.key = key
	}

	return c, nil
}

// ReadEvents fetches grant or revoke events for the subject from the
// contract's log, unordered.
func (c *Client) ReadEvents(ctx context.Context, subjectWallet string, kind models.EventKind, filterGrantee string) ([]models.AccessEvent, error) {
	eventName := "DataShared"
	if kind == models.EventRevoked {
		eventName = "DataUnshared"
	}
	event, ok := c.abi.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown contract event %q", eventName)
	}

	topics := [][]common.Hash{
		{event.ID},
		{addressTopic(subjectWallet)},
	}
	if filterGrantee != "" {
		topics = append(topics, []common.Hash{addressTopic(filterGrantee)})
	}

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", eventName, err)
	}

	events := make([]models.AccessEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		events = append(events, models.AccessEvent{
			SubjectWallet: models.NormalizeWallet(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			GranteeWallet: models.NormalizeWallet(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
			Kind:          kind,
			Position: models.SequencePosition{
				LedgerPosition: int64(l.BlockNumber),
				LogIndex:       int64(l.Index),
			},
			TxHash: l.TxHash.Hex(),
		})
	}
	return events, nil
}

// SubmitGrant submits a grant transaction and waits for confirmation.
func (c *Client) SubmitGrant(ctx context.Context, subjectWallet, granteeWallet string) (*Confirmation, error) {
	return c.transact(ctx, "grantDataAccess", granteeWallet)
}

// SubmitRevoke submits a revoke transaction and waits for confirmation.
func (c *Client) SubmitRevoke(ctx context.Context, subjectWallet, granteeWallet string) (*Confirmation, error) {
	return c.transact(ctx, "revokeDataAccess", granteeWallet)
}

func (c *Client) transact(ctx context.Context, method, granteeWallet string) (*Confirmation, error) {
	if c.key == nil {
		return nil, ErrReadOnlyClient
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.bound.Transact(opts, method, common.HexToAddress(granteeWallet))
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction %s reverted", method, tx.Hash().Hex())
	}

	return &Confirmation{
		TxHash:         tx.Hash().Hex(),
		LedgerPosition: receipt.BlockNumber.Int64(),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func addressTopic(wallet string) common.Hash {
	return common.BytesToHash(common.HexToAddress(wallet).Bytes())
}

// ErrReadOnlyClient is returned when a command is submitted without a
// signing key configured.
var ErrReadOnlyClient = &Error{Code: "READ_ONLY_CLIENT", Message: "ledger client has no signing key"}

// Error represents a ledger error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
