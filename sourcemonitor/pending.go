package sourcemonitor

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// pendingAnnouncement is the on-disk shape of a maker-created order
// awaiting the resolver to fill (§6 "pending_orders/<hashlock>.json").
// BigInt fields are decimal strings, matching §6's "numeric fields as
// decimal strings" convention.
type pendingAnnouncement struct {
	OrderHash     string `json:"order_hash"`
	Hashlock      string `json:"hashlock"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	SafetyDeposit string `json:"safety_deposit"`
	Timelocks     struct {
		SrcWithdrawal         uint32 `json:"src_withdrawal"`
		SrcPublicWithdrawal   uint32 `json:"src_public_withdrawal"`
		SrcCancellation       uint32 `json:"src_cancellation"`
		SrcPublicCancellation uint32 `json:"src_public_cancellation"`
		DstWithdrawal         uint32 `json:"dst_withdrawal"`
		DstCancellation       uint32 `json:"dst_cancellation"`
	} `json:"timelocks"`
}

// PendingWatcher watches a pending_orders directory for freshly written
// announcement files and emits them as NewOrder events with no on-chain
// provenance (§4.4 "the Source Monitor may watch this directory as an
// additional input").
type PendingWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
}

// NewPendingWatcher opens an fsnotify watch on dir, creating it if it
// does not yet exist.
func NewPendingWatcher(dir string) (*PendingWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("sourcemonitor: create pending dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sourcemonitor: open fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("sourcemonitor: watch %s: %w", dir, err)
	}
	return &PendingWatcher{dir: dir, watcher: w}, nil
}

// Close stops the underlying fsnotify watcher.
func (p *PendingWatcher) Close() error { return p.watcher.Close() }

// Run delivers a NewOrder for every *.json file created or written in
// the watched directory until ctx-equivalent cancellation (caller closes
// the watcher to stop the loop).
func (p *PendingWatcher) Run(onOrder func(NewOrder), onError func(error)) {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			order, err := loadPendingAnnouncement(event.Name)
			if err != nil {
				onError(fmt.Errorf("sourcemonitor: load %s: %w", event.Name, err))
				continue
			}
			onOrder(order)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			onError(err)
		}
	}
}

func loadPendingAnnouncement(path string) (NewOrder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NewOrder{}, err
	}

	var ann pendingAnnouncement
	if err := json.Unmarshal(raw, &ann); err != nil {
		return NewOrder{}, fmt.Errorf("decode json: %w", err)
	}

	amount, ok := new(big.Int).SetString(ann.Amount, 10)
	if !ok {
		return NewOrder{}, fmt.Errorf("invalid amount %q", ann.Amount)
	}
	safetyDeposit, ok := new(big.Int).SetString(ann.SafetyDeposit, 10)
	if !ok {
		return NewOrder{}, fmt.Errorf("invalid safety_deposit %q", ann.SafetyDeposit)
	}

	hashlockBytes := common.HexToHash(ann.Hashlock)

	immutables := swap.Immutables{
		OrderHash:     common.HexToHash(ann.OrderHash),
		Hashlock:      swap.Hashlock(hashlockBytes),
		Maker:         common.HexToAddress(ann.Maker),
		Taker:         common.HexToAddress(ann.Taker),
		Token:         common.HexToAddress(ann.Token),
		Amount:        amount,
		SafetyDeposit: safetyDeposit,
		Timelocks: swap.Timelocks{
			SrcWithdrawal:         ann.Timelocks.SrcWithdrawal,
			SrcPublicWithdrawal:   ann.Timelocks.SrcPublicWithdrawal,
			SrcCancellation:       ann.Timelocks.SrcCancellation,
			SrcPublicCancellation: ann.Timelocks.SrcPublicCancellation,
			DstWithdrawal:         ann.Timelocks.DstWithdrawal,
			DstCancellation:       ann.Timelocks.DstCancellation,
		},
	}

	if err := immutables.Validate(); err != nil {
		return NewOrder{}, fmt.Errorf("invalid immutables: %w", err)
	}

	base := filepath.Base(path)
	expectedHashlock := strings.TrimSuffix(base, ".json")
	if !strings.EqualFold(expectedHashlock, hashlockBytes.Hex()) &&
		!strings.EqualFold(expectedHashlock, strings.TrimPrefix(hashlockBytes.Hex(), "0x")) {
		return NewOrder{}, fmt.Errorf("file name %q does not match hashlock %s", base, hashlockBytes.Hex())
	}

	return NewOrder{
		OrderHash:  immutables.OrderHash,
		Immutables: immutables,
	}, nil
}
