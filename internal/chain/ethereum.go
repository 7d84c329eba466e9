package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const oracleABIJSON = `[
	{"type":"function","name":"sendRequest","stateMutability":"nonpayable","inputs":[{"name":"subscriptionId","type":"uint64"},{"name":"args","type":"string[]"}],"outputs":[{"name":"requestId","type":"bytes32"}]},
	{"type":"function","name":"getScore","stateMutability":"view","inputs":[{"name":"caller","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastRequestId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"lastError","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes"}]}
]`

const (
	defaultConfirmTimeout  = 2 * time.Minute
	defaultReceiptInterval = 2 * time.Second
)

// EthereumOracleConfig carries the connection settings for the oracle contract.
type EthereumOracleConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	ConfirmTimeout  time.Duration
	ReceiptInterval time.Duration
}

// EthereumOracle implements Oracle against the deployed contract via JSON-RPC.
type EthereumOracle struct {
	client          *ethclient.Client
	contract        common.Address
	contractABI     abi.ABI
	key             *ecdsa.PrivateKey
	from            common.Address
	chainID         *big.Int
	confirmTimeout  time.Duration
	receiptInterval time.Duration
}

// NewEthereumOracle dials the RPC endpoint and prepares the signing key.
func NewEthereumOracle(ctx context.Context, configuration EthereumOracleConfig) (*EthereumOracle, error) {
	if !common.IsHexAddress(configuration.ContractAddress) {
		return nil, fmt.Errorf("ethereum.config.invalid_contract_address: %s", configuration.ContractAddress)
	}
	key, keyErr := crypto.HexToECDSA(strings.TrimPrefix(configuration.PrivateKeyHex, "0x"))
	if keyErr != nil {
		return nil, fmt.Errorf("ethereum.config.invalid_private_key: %w", keyErr)
	}
	parsedABI, abiErr := abi.JSON(strings.NewReader(oracleABIJSON))
	if abiErr != nil {
		return nil, fmt.Errorf("ethereum.config.abi: %w", abiErr)
	}
	client, dialErr := ethclient.DialContext(ctx, configuration.RPCURL)
	if dialErr != nil {
		return nil, fmt.Errorf("ethereum.dial: %w", dialErr)
	}
	chainID, chainErr := client.ChainID(ctx)
	if chainErr != nil {
		return nil, fmt.Errorf("ethereum.chain_id: %w", chainErr)
	}

	confirmTimeout := configuration.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	receiptInterval := configuration.ReceiptInterval
	if receiptInterval <= 0 {
		receiptInterval = defaultReceiptInterval
	}

	return &EthereumOracle{
		client:          client,
		contract:        common.HexToAddress(configuration.ContractAddress),
		contractABI:     parsedABI,
		key:             key,
		from:            crypto.PubkeyToAddress(key.PublicKey),
		chainID:         chainID,
		confirmTimeout:  confirmTimeout,
		receiptInterval: receiptInterval,
	}, nil
}

// SendRequest submits the compute request transaction.
func (oracle *EthereumOracle) SendRequest(ctx context.Context, subscriptionID uint64, args []string) (string, error) {
	data, packErr := oracle.contractABI.Pack("sendRequest", subscriptionID, args)
	if packErr != nil {
		return "", fmt.Errorf("ethereum.send_request.pack: %w: %v", ErrSubmitFailed, packErr)
	}
	nonce, nonceErr := oracle.client.PendingNonceAt(ctx, oracle.from)
	if nonceErr != nil {
		return "", fmt.Errorf("ethereum.send_request.nonce: %w: %v", ErrSubmitFailed, nonceErr)
	}
	gasPrice, priceErr := oracle.client.SuggestGasPrice(ctx)
	if priceErr != nil {
		return "", fmt.Errorf("ethereum.send_request.gas_price: %w: %v", ErrSubmitFailed, priceErr)
	}
	gasLimit, estimateErr := oracle.client.EstimateGas(ctx, ethereum.CallMsg{
		From: oracle.from,
		To:   &oracle.contract,
		Data: data,
	})
	if estimateErr != nil {
		return "", fmt.Errorf("ethereum.send_request.estimate: %w: %v", ErrSubmitFailed, estimateErr)
	}

	transaction := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &oracle.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, signErr := types.SignTx(transaction, types.LatestSignerForChainID(oracle.chainID), oracle.key)
	if signErr != nil {
		return "", fmt.Errorf("ethereum.send_request.sign: %w: %v", ErrSubmitFailed, signErr)
	}
	if sendErr := oracle.client.SendTransaction(ctx, signed); sendErr != nil {
		return "", fmt.Errorf("ethereum.send_request.send: %w: %v", ErrSubmitFailed, sendErr)
	}
	return signed.Hash().Hex(), nil
}

// WaitMined polls for the transaction receipt until inclusion or timeout.
func (oracle *EthereumOracle) WaitMined(ctx context.Context, txHash string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, oracle.confirmTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(oracle.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, receiptErr := oracle.client.TransactionReceipt(deadlineCtx, hash)
		if receiptErr == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("ethereum.wait_mined.reverted: %w", ErrSubmitFailed)
			}
			return nil
		}
		select {
		case <-deadlineCtx.Done():
			return fmt.Errorf("ethereum.wait_mined: %w", ErrConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// LastRequestID reads the contract's most recent request identifier.
func (oracle *EthereumOracle) LastRequestID(ctx context.Context) (string, error) {
	values, err := oracle.call(ctx, "lastRequestId")
	if err != nil {
		return "", err
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("ethereum.last_request_id.shape: unexpected output %T", values[0])
	}
	return common.Hash(raw).Hex(), nil
}

// GetScore reads the stored score slot for a caller address.
func (oracle *EthereumOracle) GetScore(ctx context.Context, caller string) (uint64, error) {
	if !common.IsHexAddress(caller) {
		return 0, fmt.Errorf("ethereum.get_score.invalid_address: %s", caller)
	}
	values, err := oracle.call(ctx, "getScore", common.HexToAddress(caller))
	if err != nil {
		return 0, err
	}
	score, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("ethereum.get_score.shape: unexpected output %T", values[0])
	}
	return score.Uint64(), nil
}

// LastError reads the oracle's error slot.
func (oracle *EthereumOracle) LastError(ctx context.Context) ([]byte, error) {
	values, err := oracle.call(ctx, "lastError")
	if err != nil {
		return nil, err
	}
	payload, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("ethereum.last_error.shape: unexpected output %T", values[0])
	}
	return payload, nil
}

func (oracle *EthereumOracle) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, packErr := oracle.contractABI.Pack(method, args...)
	if packErr != nil {
		return nil, fmt.Errorf("ethereum.call.%s.pack: %w", method, packErr)
	}
	output, callErr := oracle.client.CallContract(ctx, ethereum.CallMsg{
		To:   &oracle.contract,
		Data: data,
	}, nil)
	if callErr != nil {
		return nil, fmt.Errorf("ethereum.call.%s: %w", method, callErr)
	}
	values, unpackErr := oracle.contractABI.Unpack(method, output)
	if unpackErr != nil {
		return nil, fmt.Errorf("ethereum.call.%s.unpack: %w", method, unpackErr)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("ethereum.call.%s.empty_output", method)
	}
	return values, nil
}
