// Package replay feeds recorded notification streams into the sink. Each
// input line is one JSON-encoded notification, in delivery order. Used for
// load testing and for verifying store contents against a known stream.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/types"
)

// Notification is one line of the replay stream. Type selects which of the
// payload fields apply.
type Notification struct {
	Type string `json:"type"`

	// account
	Pubkey       string `json:"pubkey,omitempty"`
	Lamports     uint64 `json:"lamports,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Data         []byte `json:"data,omitempty"`
	WriteVersion uint64 `json:"write_version,omitempty"`
	IsStartup    bool   `json:"is_startup,omitempty"`

	// transaction
	Signature         string   `json:"signature,omitempty"`
	IsVote            bool     `json:"is_vote,omitempty"`
	MentionedAccounts []string `json:"mentioned_accounts,omitempty"`
	Success           bool     `json:"success,omitempty"`
	LogMessages       []string `json:"log_messages,omitempty"`
	Fee               uint64   `json:"fee,omitempty"`
	ComputeUnits      uint64   `json:"compute_units,omitempty"`

	// slot status
	Status string `json:"status,omitempty"`

	// block metadata
	Blockhash   string `json:"blockhash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	ParentSlot  uint64 `json:"parent_slot,omitempty"`

	Slot uint64 `json:"slot,omitempty"`
}

// Notification type tags.
const (
	TypeAccount      = "account"
	TypeTransaction  = "transaction"
	TypeSlotStatus   = "slot_status"
	TypeBlock        = "block_metadata"
	TypeEndOfStartup = "end_of_startup"
)

// Target is the notification surface the replayer drives.
type Target interface {
	UpdateAccount(update types.AccountUpdate) error
	NotifyTransaction(tx types.TransactionInfo) error
	UpdateSlotStatus(slot uint64, status types.SlotStatus) error
	NotifyBlockMetadata(block types.BlockMetadata) error
	NotifyEndOfStartup() error
}

// Stats summarizes one replay run.
type Stats struct {
	Lines        int
	Accounts     int
	Transactions int
	SlotStatuses int
	Blocks       int
}

// Run streams notifications from r into the target until EOF or a
// delivery error. A malformed line aborts the run with its line number.
func Run(ctx context.Context, r io.Reader, target Target, log *logger.Logger) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			return stats, fmt.Errorf("line %d: malformed notification: %w", stats.Lines, err)
		}

		if err := deliver(&n, target, &stats); err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read replay stream: %w", err)
	}

	log.Infow("replay finished",
		"lines", stats.Lines,
		"accounts", stats.Accounts,
		"transactions", stats.Transactions,
		"slot_statuses", stats.SlotStatuses,
		"blocks", stats.Blocks)

	return stats, nil
}

func deliver(n *Notification, target Target, stats *Stats) error {
	switch n.Type {
	case TypeAccount:
		update, err := n.accountUpdate()
		if err != nil {
			return err
		}
		stats.Accounts++

		return target.UpdateAccount(update)

	case TypeTransaction:
		tx, err := n.transactionInfo()
		if err != nil {
			return err
		}
		stats.Transactions++

		return target.NotifyTransaction(tx)

	case TypeSlotStatus:
		status, err := types.ParseSlotStatus(n.Status)
		if err != nil {
			return err
		}
		stats.SlotStatuses++

		return target.UpdateSlotStatus(n.Slot, status)

	case TypeBlock:
		stats.Blocks++

		return target.NotifyBlockMetadata(types.BlockMetadata{
			Slot:        n.Slot,
			Blockhash:   n.Blockhash,
			BlockTime:   n.BlockTime,
			BlockHeight: n.BlockHeight,
			ParentSlot:  n.ParentSlot,
		})

	case TypeEndOfStartup:
		return target.NotifyEndOfStartup()

	default:
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
}

func (n *Notification) accountUpdate() (types.AccountUpdate, error) {
	pubkey, err := solana.PublicKeyFromBase58(n.Pubkey)
	if err != nil {
		return types.AccountUpdate{}, fmt.Errorf("invalid pubkey %q: %w", n.Pubkey, err)
	}

	var owner solana.PublicKey
	if n.Owner != "" {
		owner, err = solana.PublicKeyFromBase58(n.Owner)
		if err != nil {
			return types.AccountUpdate{}, fmt.Errorf("invalid owner %q: %w", n.Owner, err)
		}
	}

	return types.AccountUpdate{
		Pubkey:       pubkey,
		Slot:         n.Slot,
		Lamports:     n.Lamports,
		Owner:        owner,
		Data:         n.Data,
		WriteVersion: n.WriteVersion,
		IsStartup:    n.IsStartup,
	}, nil
}

func (n *Notification) transactionInfo() (types.TransactionInfo, error) {
	signature, err := solana.SignatureFromBase58(n.Signature)
	if err != nil {
		return types.TransactionInfo{}, fmt.Errorf("invalid signature %q: %w", n.Signature, err)
	}

	mentioned := make([]solana.PublicKey, 0, len(n.MentionedAccounts))
	for _, m := range n.MentionedAccounts {
		pk, err := solana.PublicKeyFromBase58(m)
		if err != nil {
			return types.TransactionInfo{}, fmt.Errorf("invalid mentioned account %q: %w", m, err)
		}
		mentioned = append(mentioned, pk)
	}

	return types.TransactionInfo{
		Signature:         signature,
		Slot:              n.Slot,
		IsVote:            n.IsVote,
		MentionedAccounts: mentioned,
		Success:           n.Success,
		LogMessages:       n.LogMessages,
		Fee:               n.Fee,
		ComputeUnits:      n.ComputeUnits,
	}, nil
}
