// Package handlers wires example event handlers into the registry:
// application-specific reducers over decoded events, kept separate from
// the core scan/dispatch machinery.
package handlers

import (
	"context"
	"fmt"

	"chainindex/internal/chainmodel"
	"chainindex/internal/derivedstore"
	"chainindex/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Register binds the handlers for the "Token" and "Factory" contracts to
// reg, persisting into store. A real deployment would replace this with
// its own package built the same way: one function per (contract, event)
// that closes over the collections it needs.
func Register(reg *registry.Registry, store derivedstore.Store) error {
	balances := store.Collection("balances")
	transfers := store.Collection("transfers")
	pools := store.Collection("pools")

	if err := reg.RegisterHandler("Token", "Transfer", handleTransfer(balances, transfers)); err != nil {
		return fmt.Errorf("handlers: registering Token.Transfer: %w", err)
	}
	if err := reg.RegisterHandler("Token", "Approval", handleApproval(store.Collection("approvals"))); err != nil {
		return fmt.Errorf("handlers: registering Token.Approval: %w", err)
	}
	if err := reg.RegisterHandler("Token", chainmodel.NativeTransferEvent, handleNativeTransfer(balances, transfers)); err != nil {
		return fmt.Errorf("handlers: registering Token native transfer: %w", err)
	}
	if err := reg.RegisterHandler("Factory", "PoolCreated", handlePoolCreated(pools)); err != nil {
		return fmt.Errorf("handlers: registering Factory.PoolCreated: %w", err)
	}
	return nil
}

// handleTransfer credits/debits the "balances" collection and appends an
// entry to "transfers", keyed by tx hash + log index so re-dispatch during
// replay is idempotent.
func handleTransfer(balances, transfers derivedstore.Collection) chainmodel.Handler {
	return func(hctx chainmodel.HandlerContext) {
		from, _ := hctx.Event.Args["from"].(common.Address)
		to, _ := hctx.Event.Args["to"].(common.Address)
		value := hctx.Event.Args["value"]

		ctx := context.Background()
		key := fmt.Sprintf("%s-%d", hctx.Transaction.Hash.Hex(), hctx.LogIndex)

		if err := transfers.Upsert(ctx, key, derivedstore.Document{
			"contract":  hctx.Contract,
			"from":      from.Hex(),
			"to":        to.Hex(),
			"value":     toBigString(value),
			"block":     hctx.BlockNumber,
			"timestamp": hctx.Timestamp,
		}); err != nil {
			logrus.Errorf("handlers: Token.Transfer upsert %s: %v", key, err)
			return
		}

		adjustBalance(ctx, balances, hctx.Contract, from, value, false)
		adjustBalance(ctx, balances, hctx.Contract, to, value, true)
	}
}

// handleApproval records the latest allowance granted by owner to spender.
func handleApproval(approvals derivedstore.Collection) chainmodel.Handler {
	return func(hctx chainmodel.HandlerContext) {
		owner, _ := hctx.Event.Args["owner"].(common.Address)
		spender, _ := hctx.Event.Args["spender"].(common.Address)
		value := hctx.Event.Args["value"]

		ctx := context.Background()
		key := fmt.Sprintf("%s-%s", owner.Hex(), spender.Hex())
		if err := approvals.Upsert(ctx, key, derivedstore.Document{
			"owner":   owner.Hex(),
			"spender": spender.Hex(),
			"value":   toBigString(value),
		}); err != nil {
			logrus.Errorf("handlers: Token.Approval upsert %s: %v", key, err)
		}
	}
}

// handleNativeTransfer mirrors handleTransfer for plain ETH sent directly
// to a tracked address, via the synthetic native-transfer pseudo-event.
func handleNativeTransfer(balances, transfers derivedstore.Collection) chainmodel.Handler {
	return func(hctx chainmodel.HandlerContext) {
		from, _ := hctx.Event.Args["from"].(common.Address)
		to, _ := hctx.Event.Args["to"].(common.Address)
		value := hctx.Event.Args["value"]

		ctx := context.Background()
		key := fmt.Sprintf("%s-native", hctx.Transaction.Hash.Hex())

		if err := transfers.Upsert(ctx, key, derivedstore.Document{
			"contract":  hctx.Contract,
			"from":      from.Hex(),
			"to":        to.Hex(),
			"value":     toBigString(value),
			"native":    true,
			"block":     hctx.BlockNumber,
			"timestamp": hctx.Timestamp,
		}); err != nil {
			logrus.Errorf("handlers: Token native transfer upsert %s: %v", key, err)
			return
		}

		adjustBalance(ctx, balances, hctx.Contract, to, value, true)
	}
}

// handlePoolCreated demonstrates dynamic contract tracking: a Factory
// event teaches the scanner about a brand-new Token address, which future
// chunks will then decode events for.
func handlePoolCreated(pools derivedstore.Collection) chainmodel.Handler {
	return func(hctx chainmodel.HandlerContext) {
		pool, _ := hctx.Event.Args["pool"].(common.Address)
		name, _ := hctx.Event.Args["name"].(string)

		ctx := context.Background()
		if err := pools.Upsert(ctx, pool.Hex(), derivedstore.Document{
			"name":  name,
			"block": hctx.BlockNumber,
		}); err != nil {
			logrus.Errorf("handlers: Factory.PoolCreated upsert %s: %v", pool.Hex(), err)
		}

		if hctx.NewAddress != nil {
			hctx.NewAddress("Token", pool)
		}
	}
}

func adjustBalance(ctx context.Context, balances derivedstore.Collection, contract string, addr common.Address, value interface{}, credit bool) {
	if addr == (common.Address{}) {
		return
	}
	key := fmt.Sprintf("%s-%s", contract, addr.Hex())

	doc, ok, err := balances.Get(ctx, key)
	if err != nil {
		logrus.Errorf("handlers: reading balance %s: %v", key, err)
		return
	}
	if !ok {
		doc = derivedstore.Document{"contract": contract, "address": addr.Hex(), "balance": "0"}
	}

	current := toBigString(doc["balance"])
	delta := toBigString(value)
	doc["balance"] = addSignedDecimal(current, delta, credit)

	if err := balances.Upsert(ctx, key, doc); err != nil {
		logrus.Errorf("handlers: writing balance %s: %v", key, err)
	}
}
