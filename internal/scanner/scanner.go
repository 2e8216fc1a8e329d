// Package scanner implements the block scanner: the orchestrator that walks
// block ranges, fetches raw chain data, decodes events against the
// registry, and dispatches them to handlers in a deterministic order. Live
// and replay scans share the decode/dispatch path, so they dispatch in the
// same order; the one difference is that replay skips transactions whose
// receipt has status 0, while the live path dispatches them.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"chainindex/internal/chainmodel"
	"chainindex/internal/failover"
	"chainindex/internal/rawstore"
	"chainindex/internal/registry"
	"chainindex/internal/rpcclient"
	"chainindex/internal/scannerstate"
	"chainindex/internal/sink"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// fetchConcurrency bounds the number of blocks fetched in parallel within
// one chunk.
const fetchConcurrency = 8

// errorLogEvery is how often a still-failing retry loop escalates from WARN
// to ERROR, so an unbounded retry still surfaces as increasingly loud log
// output instead of stalling silently.
const errorLogEvery = 10

// Progress reports how far a Scan/Replay call has advanced, for callers
// that want to surface liveness (e.g. the API's job status endpoint).
type Progress struct {
	From, To   uint64
	Dispatched int
}

// Scanner orchestrates the fetch/decode/dispatch loop for a chain.
type Scanner struct {
	pool     *failover.Pool
	raw      *rawstore.Store
	reg      *registry.Registry
	state    *scannerstate.State
	notifier failover.Notifier
	audit    sink.Sink

	requestInterval time.Duration
	retryBase       time.Duration

	stopped chan struct{}
	once    sync.Once
}

// New builds a Scanner from its wired dependencies. audit may be nil, in
// which case dispatched events are not separately exported.
func New(pool *failover.Pool, raw *rawstore.Store, reg *registry.Registry, state *scannerstate.State, notifier failover.Notifier, audit sink.Sink, requestInterval, retryBase time.Duration) *Scanner {
	return &Scanner{
		pool:            pool,
		raw:             raw,
		reg:             reg,
		state:           state,
		notifier:        notifier,
		audit:           audit,
		requestInterval: requestInterval,
		retryBase:       retryBase,
		stopped:         make(chan struct{}),
	}
}

// Stop signals any in-progress Scan/Replay loop to return at its next
// chunk boundary.
func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *Scanner) stopping() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// SuggestedStart returns the next block the scanner should fetch, i.e. the
// cursor's position plus one.
func (s *Scanner) SuggestedStart() uint64 {
	return s.state.LastScannedBlock() + 1
}

// SuggestedEnd returns the highest block safe to scan to, given the chain
// tip and a reorg safety margin: it never suggests scanning within safety
// blocks of the tip.
func (s *Scanner) SuggestedEnd(ctx context.Context, safety uint64) (uint64, error) {
	tip, err := s.pool.Current().LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanner: fetching chain tip: %w", err)
	}
	if tip < safety {
		return 0, nil
	}
	return tip - safety, nil
}

// Scan runs the live path: chunked fetch from start through end inclusive,
// against the RPC pool, persisting to the Raw Store as it goes, then
// decoding and dispatching in order. onProgress may be nil.
func (s *Scanner) Scan(ctx context.Context, start, end uint64, maxChunkSize uint64, onProgress func(Progress)) error {
	for cursor := start; cursor <= end; {
		if s.stopping() || ctx.Err() != nil {
			return ctx.Err()
		}
		chunkEnd := cursor + maxChunkSize - 1
		if chunkEnd > end {
			chunkEnd = end
		}

		events, err := s.fetchAndDecodeChunk(ctx, cursor, chunkEnd)
		if err != nil {
			return fmt.Errorf("scanner: live chunk [%d,%d]: %w", cursor, chunkEnd, err)
		}

		dispatched := s.dispatch(events)

		if err := s.state.EndChunk(chunkEnd); err != nil {
			logrus.Errorf("scanner: snapshotting cursor at %d: %v", chunkEnd, err)
		}

		if onProgress != nil {
			onProgress(Progress{From: cursor, To: chunkEnd, Dispatched: dispatched})
		}

		cursor = chunkEnd + 1
		if cursor <= end && s.requestInterval > 0 {
			select {
			case <-time.After(s.requestInterval):
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stopped:
				return nil
			}
		}
	}
	return nil
}

// fetchAndDecodeChunk fetches every block and receipt in [from, to],
// persists them to the Raw Store, and decodes their logs plus synthetic
// native-transfer pseudo-events into an unsorted slice.
func (s *Scanner) fetchAndDecodeChunk(ctx context.Context, from, to uint64) ([]chainmodel.DecodedEvent, error) {
	type fetched struct {
		block    chainmodel.RawBlock
		receipts []chainmodel.RawReceipt
	}

	numbers := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}

	results := make([]fetched, len(numbers))
	errs := make([]error, len(numbers))

	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup
	for i, n := range numbers {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, n uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			b, rs, err := s.fetchBlockWithReceipts(ctx, n)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = fetched{block: *b, receipts: rs}
		}(i, n)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var events []chainmodel.DecodedEvent
	for _, f := range results {
		if err := s.raw.InsertBlock(ctx, f.block); err != nil {
			return nil, err
		}
		for _, r := range f.receipts {
			if err := s.raw.InsertReceipt(ctx, r); err != nil {
				return nil, err
			}
		}
		events = append(events, s.decodeBlock(f.block, f.receipts, false)...)
	}
	return events, nil
}

// fetchBlockWithReceipts fetches block n and the receipts for each of its
// transactions, retrying transient failures and rotating providers on
// rate-limit responses.
func (s *Scanner) fetchBlockWithReceipts(ctx context.Context, n uint64) (*chainmodel.RawBlock, []chainmodel.RawReceipt, error) {
	block, err := withRetry(ctx, s, func(cli *rpcclient.Client) (*types.Block, error) {
		return cli.BlockByNumber(ctx, n)
	})
	if err != nil {
		return nil, nil, err
	}

	txs := make([]chainmodel.RawTransaction, 0, len(block.Transactions()))
	receipts := make([]chainmodel.RawReceipt, 0, len(block.Transactions()))

	signer := types.LatestSignerForChainID(nil)
	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			from = common.Address{}
		}

		txs = append(txs, chainmodel.RawTransaction{
			Hash:     tx.Hash(),
			To:       tx.To(),
			From:     from,
			Value:    new(big.Int).Set(tx.Value()),
			BlockNum: n,
		})

		receipt, err := withRetry(ctx, s, func(cli *rpcclient.Client) (*types.Receipt, error) {
			return cli.TransactionReceipt(ctx, tx.Hash())
		})
		if err != nil {
			return nil, nil, err
		}
		rawReceipt, err := json.Marshal(receipt)
		if err != nil {
			return nil, nil, fmt.Errorf("scanner: marshaling receipt %s: %w", tx.Hash().Hex(), err)
		}
		receipts = append(receipts, chainmodel.RawReceipt{
			TxHash:      tx.Hash(),
			BlockNumber: n,
			Status:      receipt.Status,
			Logs:        logSlice(receipt.Logs),
			Raw:         rawReceipt,
		})
	}

	rawBlock, err := json.Marshal(block.Header())
	if err != nil {
		return nil, nil, fmt.Errorf("scanner: marshaling block %d header: %w", n, err)
	}

	return &chainmodel.RawBlock{
		Number:     n,
		Timestamp:  block.Time(),
		Hash:       block.Hash(),
		ParentHash: block.ParentHash(),
		Txs:        txs,
		Raw:        rawBlock,
	}, receipts, nil
}

func logSlice(logs []*types.Log) []types.Log {
	out := make([]types.Log, len(logs))
	for i, l := range logs {
		out[i] = *l
	}
	return out
}

// withRetry runs fn against the pool's current client, retrying on transient
// errors and switching providers when the failure looks like a rate limit.
// The loop itself is unbounded in attempt count, favoring observability over
// a fixed deadline, so it only ever returns via ctx cancellation; each pass
// sleeps retryBase. A rate-limited pass switches provider and logs at WARN;
// any other failure logs at WARN, escalating to ERROR every
// errorLogEvery-th pass.
func withRetry[T any](ctx context.Context, s *Scanner, fn func(*rpcclient.Client) (T, error)) (T, error) {
	var zero T
	delay := s.retryBase
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for attempt := 1; ; attempt++ {
		if err := s.pool.Wait(ctx); err != nil {
			return zero, err
		}
		result, err := fn(s.pool.Current())
		if err == nil {
			return result, nil
		}

		if rpcclient.IsRateLimited(err) {
			logrus.Warnf("scanner: rate limited, switching provider (attempt %d): %v", attempt, err)
			if swErr := s.pool.Switch(ctx); swErr != nil {
				logrus.Warnf("scanner: provider switch failed: %v", swErr)
			}
		} else if attempt%errorLogEvery == 0 {
			logrus.Errorf("scanner: fetch still failing after %d attempts: %v", attempt, err)
		} else {
			logrus.Warnf("scanner: fetch attempt %d failed: %v", attempt, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// decodeBlock decodes every log in every receipt of b against the
// registry, plus a synthetic native-transfer pseudo-event for each
// transaction whose `to` is a tracked address under some contract. A
// transaction with no stored receipt is always skipped, since there are no
// logs to decode for it. A reverted transaction (receipt.Status == 0) is
// only skipped when replaying: the live path dispatches events from failed
// transactions exactly as they occur on chain, and only the replay path
// (re-deriving from the Raw Store) filters them out.
func (s *Scanner) decodeBlock(b chainmodel.RawBlock, receipts []chainmodel.RawReceipt, replaying bool) []chainmodel.DecodedEvent {
	var events []chainmodel.DecodedEvent

	receiptByHash := make(map[common.Hash]chainmodel.RawReceipt, len(receipts))
	for _, r := range receipts {
		receiptByHash[r.TxHash] = r
	}

	for _, tx := range b.Txs {
		receipt, ok := receiptByHash[tx.Hash]
		if !ok {
			continue
		}
		if replaying && receipt.Status == 0 {
			continue
		}

		if tx.To != nil {
			for _, contract := range s.reg.ContractNames() {
				if s.reg.HasTransferHandler(contract) && s.state.IsTracked(contract, *tx.To) {
					events = append(events, chainmodel.DecodedEvent{
						BlockNumber:  b.Number,
						LogIndex:     chainmodel.SyntheticLogIndex,
						ContractName: contract,
						EventName:    chainmodel.NativeTransferEvent,
						Args:         map[string]interface{}{"value": tx.Value, "to": *tx.To, "from": tx.From},
						Address:      *tx.To,
						Tx:           tx,
						Receipt:      receipt,
						Timestamp:    b.Timestamp,
					})
				}
			}
		}

		for _, log := range receipt.Logs {
			for _, contract := range s.reg.ContractNames() {
				if !s.state.IsTracked(contract, log.Address) {
					continue
				}
				ev, ok := s.reg.Decode(contract, log)
				if !ok {
					continue
				}
				ev.Tx = tx
				ev.Receipt = receipt
				ev.Timestamp = b.Timestamp
				events = append(events, *ev)
			}
		}
	}

	return events
}

// dispatch stable-sorts events by (block_number, log_index) with synthetic
// transfers ordered before real logs at the same block (log_index -1 sorts
// first naturally), then invokes each event's handler in order.
func (s *Scanner) dispatch(events []chainmodel.DecodedEvent) int {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	fixed := make(map[string]common.Address)
	count := 0
	for _, ev := range events {
		handler, ok := s.reg.Handler(ev.ContractName, ev.EventName)
		if !ok {
			s.reg.WarnMissingOnce(ev.ContractName, ev.EventName)
			continue
		}

		hctx := chainmodel.HandlerContext{
			Contract:       ev.ContractName,
			EventName:      ev.EventName,
			Event:          ev,
			Receipt:        ev.Receipt,
			Transaction:    ev.Tx,
			Timestamp:      ev.Timestamp,
			BlockNumber:    ev.BlockNumber,
			LogIndex:       ev.LogIndex,
			FixedContracts: fixed,
			NewAddress: func(contractName string, addr common.Address) {
				s.state.AddAddress(contractName, addr)
			},
		}

		s.reg.Invoke(handler, hctx, func(contract, event string, recovered interface{}) {
			if s.notifier != nil {
				s.notifier.Notify(fmt.Sprintf("handler panic in %s.%s: %v", contract, event, recovered))
			}
		})

		if s.audit != nil {
			if err := s.audit.Write(auditEvent(ev)); err != nil {
				logrus.Warnf("scanner: audit export for %s.%s failed: %v", ev.ContractName, ev.EventName, err)
			}
		}
		count++
	}
	return count
}

// auditEvent flattens a DecodedEvent into the generic shape sink.Event
// export back-ends expect, merging in the decoded args under their own
// keys so each CSV column matches one ABI field.
func auditEvent(ev chainmodel.DecodedEvent) sink.Event {
	out := sink.Event{
		"contract_name": ev.ContractName,
		"event_name":    ev.EventName,
		"block_number":  ev.BlockNumber,
		"log_index":     ev.LogIndex,
		"address":       ev.Address.Hex(),
		"tx_hash":       ev.Tx.Hash.Hex(),
		"timestamp":     ev.Timestamp,
	}
	for k, v := range ev.Args {
		out[k] = v
	}
	return out
}

// Replay re-derives the Derived Store from the Raw Store alone, without
// contacting the RPC endpoint, walking stored blocks in pages of
// pageSize. It shares decodeBlock and dispatch with Scan, which is what
// makes the two paths dispatch-order-equivalent.
func (s *Scanner) Replay(ctx context.Context, pageSize uint64, onProgress func(Progress)) error {
	total, err := s.raw.BlockCount(ctx)
	if err != nil {
		return fmt.Errorf("scanner: counting stored blocks: %w", err)
	}

	for offset := uint64(0); offset < uint64(total); offset += pageSize {
		if s.stopping() || ctx.Err() != nil {
			return ctx.Err()
		}

		blocks, err := s.raw.BlocksFrom(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("scanner: reading blocks from raw store: %w", err)
		}
		if len(blocks) == 0 {
			break
		}

		var events []chainmodel.DecodedEvent
		for _, b := range blocks {
			hashes := make([]common.Hash, 0, len(b.Txs))
			for _, tx := range b.Txs {
				hashes = append(hashes, tx.Hash)
			}
			receipts, err := s.raw.ReceiptsFor(ctx, hashes)
			if err != nil {
				return fmt.Errorf("scanner: reading receipts for block %d: %w", b.Number, err)
			}
			events = append(events, s.decodeBlock(b, receipts, true)...)
		}

		dispatched := s.dispatch(events)
		if onProgress != nil {
			onProgress(Progress{From: blocks[0].Number, To: blocks[len(blocks)-1].Number, Dispatched: dispatched})
		}
	}
	return nil
}
