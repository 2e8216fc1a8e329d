// Package chainmodel holds the data types shared by the registry, the raw
// store and the scanner.
package chainmodel

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NativeTransferEvent is the synthetic event name emitted when a
// transaction's `to` is a tracked address and the contract has a handler
// registered under this name.
const NativeTransferEvent = "_transfer"

// SyntheticLogIndex is the reserved log_index value for native-transfer
// pseudo-events.
const SyntheticLogIndex int64 = -1

// RawTransaction is the subset of transaction data the scanner and handlers
// need, independent of the receipt it produced.
type RawTransaction struct {
	Hash     common.Hash     `json:"hash"`
	To       *common.Address `json:"to,omitempty"`
	From     common.Address  `json:"from"`
	Value    *big.Int        `json:"value,omitempty"`
	BlockNum uint64          `json:"block_number"`
}

// RawBlock is the durable, replay-sufficient representation of one block.
type RawBlock struct {
	Number     uint64            `json:"number"`
	Timestamp  uint64            `json:"timestamp"`
	Hash       common.Hash       `json:"hash"`
	ParentHash common.Hash       `json:"parent_hash"`
	Txs        []RawTransaction  `json:"txs"`
	Raw        json.RawMessage   `json:"raw"`
}

// RawReceipt is the durable representation of one transaction's receipt.
type RawReceipt struct {
	TxHash      common.Hash     `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	Status      uint64          `json:"status"`
	Logs        []types.Log     `json:"logs"`
	Raw         json.RawMessage `json:"raw"`
}

// DecodedEvent is the ephemeral, chunk-scoped unit dispatched to handlers.
type DecodedEvent struct {
	BlockNumber  uint64
	LogIndex     int64 // >= 0 for contract events, -1 for synthetic transfers
	ContractName string
	EventName    string
	Args         map[string]interface{}
	Address      common.Address
	Tx           RawTransaction
	Receipt      RawReceipt
	Timestamp    uint64
}

// HandlerContext is the argument passed to every registered Handler.
type HandlerContext struct {
	Contract       string
	EventName      string
	Event          DecodedEvent
	Receipt        RawReceipt
	Transaction    RawTransaction
	Timestamp      uint64
	BlockNumber    uint64
	LogIndex       int64
	FixedContracts map[string]common.Address
	NewAddress     func(contractName string, addr common.Address)
}

// Handler is the plug-in boundary: application-specific code that mutates
// the derived store in response to one decoded event. Handler bodies are
// application-specific; only this signature is part of the core.
type Handler func(ctx HandlerContext)
