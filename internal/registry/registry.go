// Package registry loads contract ABIs, indexes their events by log topic,
// and holds the (contract, event) -> Handler table.
package registry

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"chainindex/internal/chainmodel"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// ContractBinding is the immutable, registry-owned description of one
// tracked contract.
type ContractBinding struct {
	Name           string
	ABI            abi.ABI
	TopicToEvent   map[common.Hash]string
	EventToHandler map[string]chainmodel.Handler
}

// topicKey is the cache key for the registry's event-lookup LRU.
type topicKey struct {
	contract string
	topic    common.Hash
}

// Registry is the read-mostly map from contract name to ContractBinding.
// The only mutator of the bindings after Load is RegisterHandler, called
// during startup wiring before the scanner begins; Decode also fills the
// topic-lookup cache and WarnMissingOnce records warned pairs.
type Registry struct {
	contracts map[string]*ContractBinding
	warned    map[string]struct{}
	cache     *lru.Cache[topicKey, string]
}

// Load enumerates every `<name>.json` ABI file under abiDir and builds one
// ContractBinding per file, with topics pre-computed from the event
// signatures. Handlers are registered afterwards via RegisterHandler,
// making registration explicit rather than discovered by reflection.
func Load(abiDir string) (*Registry, error) {
	entries, err := ioutil.ReadDir(abiDir)
	if err != nil {
		return nil, fmt.Errorf("registry: reading abi dir %s: %w", abiDir, err)
	}

	cache, _ := lru.New[topicKey, string](1024)
	r := &Registry{
		contracts: make(map[string]*ContractBinding),
		warned:    make(map[string]struct{}),
		cache:     cache,
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		raw, err := ioutil.ReadFile(filepath.Join(abiDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("registry: reading %s: %w", e.Name(), err)
		}
		parsed, err := abi.JSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("registry: parsing abi %s: %w", e.Name(), err)
		}

		topics := make(map[common.Hash]string, len(parsed.Events))
		for evName, ev := range parsed.Events {
			topics[ev.ID] = evName
		}

		r.contracts[name] = &ContractBinding{
			Name:           name,
			ABI:            parsed,
			TopicToEvent:   topics,
			EventToHandler: make(map[string]chainmodel.Handler),
		}
	}

	logrus.Infof("registry: loaded %d contract ABIs from %s", len(r.contracts), abiDir)
	return r, nil
}

// RegisterHandler binds a Handler to (contractName, eventName). eventName
// may be chainmodel.NativeTransferEvent to register the pseudo-event
// handler for native value transfers into a tracked address.
func (r *Registry) RegisterHandler(contractName, eventName string, h chainmodel.Handler) error {
	c, ok := r.contracts[contractName]
	if !ok {
		return fmt.Errorf("registry: unknown contract %q", contractName)
	}
	c.EventToHandler[eventName] = h
	return nil
}

// ContractNames returns every loaded contract's name.
func (r *Registry) ContractNames() []string {
	names := make([]string, 0, len(r.contracts))
	for n := range r.contracts {
		names = append(names, n)
	}
	return names
}

// Topics returns the topic->event-name table and its keys as a slice, for
// building eth_getLogs filters or membership checks.
func (r *Registry) Topics(contractName string) (map[common.Hash]string, []common.Hash) {
	c, ok := r.contracts[contractName]
	if !ok {
		return nil, nil
	}
	topics := make([]common.Hash, 0, len(c.TopicToEvent))
	for t := range c.TopicToEvent {
		topics = append(topics, t)
	}
	return c.TopicToEvent, topics
}

// Decode resolves log against the named contract's ABI. It returns false
// when the leading topic is unknown under that contract.
func (r *Registry) Decode(contractName string, log types.Log) (*chainmodel.DecodedEvent, bool) {
	c, ok := r.contracts[contractName]
	if !ok || len(log.Topics) == 0 {
		return nil, false
	}

	topic := log.Topics[0]
	eventName, ok := r.lookupEventName(contractName, c, topic)
	if !ok {
		return nil, false
	}

	evDef, ok := c.ABI.Events[eventName]
	if !ok {
		return nil, false
	}

	args := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := c.ABI.UnpackIntoMap(args, eventName, log.Data); err != nil {
			logrus.Debugf("registry: unpack data for %s.%s failed: %v", contractName, eventName, err)
		}
	}

	var indexed abi.Arguments
	for _, in := range evDef.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	for i, arg := range indexed {
		if len(log.Topics) <= i+1 {
			break
		}
		topicVals := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(topicVals, abi.Arguments{arg}, []common.Hash{log.Topics[i+1]}); err == nil {
			for k, v := range topicVals {
				args[k] = v
			}
		} else {
			args[arg.Name] = log.Topics[i+1].Hex()
		}
	}

	return &chainmodel.DecodedEvent{
		BlockNumber:  log.BlockNumber,
		LogIndex:     int64(log.Index),
		ContractName: contractName,
		EventName:    eventName,
		Args:         args,
		Address:      log.Address,
	}, true
}

// lookupEventName resolves a topic to an event name via the LRU cache,
// falling back to (and populating from) the contract's topic table.
func (r *Registry) lookupEventName(contractName string, c *ContractBinding, topic common.Hash) (string, bool) {
	key := topicKey{contract: contractName, topic: topic}
	if r.cache != nil {
		if name, ok := r.cache.Get(key); ok {
			return name, true
		}
	}
	name, ok := c.TopicToEvent[topic]
	if ok && r.cache != nil {
		r.cache.Add(key, name)
	}
	return name, ok
}

// Handler returns the handler registered for (contractName, eventName), if any.
func (r *Registry) Handler(contractName, eventName string) (chainmodel.Handler, bool) {
	c, ok := r.contracts[contractName]
	if !ok {
		return nil, false
	}
	h, ok := c.EventToHandler[eventName]
	return h, ok
}

// HasTransferHandler reports whether contractName has a native-transfer
// pseudo-event handler registered.
func (r *Registry) HasTransferHandler(contractName string) bool {
	_, ok := r.Handler(contractName, chainmodel.NativeTransferEvent)
	return ok
}

// Invoke calls h synchronously. A handler panic is logged and swallowed so
// the rest of the chunk keeps dispatching; the monitor push itself is the
// caller's responsibility via the onPanic callback so the registry stays
// decoupled from the monitor sink's transport.
func (r *Registry) Invoke(h chainmodel.Handler, hctx chainmodel.HandlerContext, onPanic func(contract, event string, recovered interface{})) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("registry: handler panic for %s.%s: %v", hctx.Contract, hctx.EventName, rec)
			if onPanic != nil {
				onPanic(hctx.Contract, hctx.EventName, rec)
			}
		}
	}()
	h(hctx)
}

// WarnMissingOnce logs a warning the first time a (contract, event) pair is
// seen without a registered handler, then stays quiet for every subsequent
// occurrence of that same pair.
func (r *Registry) WarnMissingOnce(contractName, eventName string) {
	key := contractName + "." + eventName
	if _, ok := r.warned[key]; ok {
		return
	}
	r.warned[key] = struct{}{}
	logrus.Warnf("registry: no handler registered for %s.%s", contractName, eventName)
}
