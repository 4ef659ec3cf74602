package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// storeRecordABI is the single contract method the service calls.
const storeRecordABI = `[
  {
    "inputs": [
      {"internalType": "bytes32", "name": "_hash", "type": "bytes32"},
      {"internalType": "bool", "name": "_aiGenerated", "type": "bool"},
      {"internalType": "uint256", "name": "_confidence", "type": "uint256"}
    ],
    "name": "storeRecord",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const storeRecordMethod = "storeRecord"

// EthereumConnector dials an EVM JSON-RPC endpoint and binds the provenance
// contract with a keyed transactor.
func EthereumConnector(cfg Config) Connector {
	return func(ctx context.Context) (Binding, error) {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
		}
		keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
		key, err := ethcrypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		parsed, err := abi.JSON(strings.NewReader(storeRecordABI))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse abi: %w", err)
		}

		address := common.HexToAddress(cfg.ContractAddress)
		return &ethBinding{
			client:   client,
			contract: bind.NewBoundContract(address, parsed, client, client, client),
			auth:     auth,
		}, nil
	}
}

type ethBinding struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts

	// sendMu serializes nonce lookup and broadcast for the shared signer.
	sendMu sync.Mutex
}

func (b *ethBinding) StoreRecord(ctx context.Context, rec Record) (string, error) {
	opts := *b.auth
	opts.Context = ctx

	b.sendMu.Lock()
	tx, err := b.contract.Transact(&opts, storeRecordMethod,
		rec.Fingerprint.Bytes32(),
		rec.AIGenerated,
		new(big.Int).SetUint64(rec.ConfidencePercent),
	)
	b.sendMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", storeRecordMethod, err)
	}

	txID := tx.Hash().Hex()
	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return "", fmt.Errorf("wait for %s: %w", txID, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", &ServiceError{Message: "transaction reverted", TxID: txID}
	}
	return txID, nil
}

func (b *ethBinding) Close() {
	b.client.Close()
}
