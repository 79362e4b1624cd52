package types

import (
	"github.com/gagliardetto/solana-go"
)

// Kind identifies the notification kind a record or batch carries.
type Kind int

const (
	KindAccount Kind = iota
	KindTransaction
	KindSlotStatus
	KindBlockMetadata
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindTransaction:
		return "transaction"
	case KindSlotStatus:
		return "slot-status"
	case KindBlockMetadata:
		return "block-metadata"
	default:
		return "unknown"
	}
}

// AccountUpdate describes a single account write observed by the host.
// WriteVersion is monotonically increasing per pubkey; the store must never
// let a row with a higher write version be overwritten by a lower one.
type AccountUpdate struct {
	Pubkey       solana.PublicKey
	Slot         uint64
	Lamports     uint64
	Owner        solana.PublicKey
	Data         []byte
	WriteVersion uint64
	IsStartup    bool
}

// TransactionInfo describes an executed transaction. Immutable once
// observed; written at most once per signature.
type TransactionInfo struct {
	Signature         solana.Signature
	Slot              uint64
	IsVote            bool
	MentionedAccounts []solana.PublicKey
	Success           bool
	LogMessages       []string
	Fee               uint64
	ComputeUnits      uint64
}

// SlotStatusUpdate attaches a commitment status to a slot number.
type SlotStatusUpdate struct {
	Slot   uint64
	Status SlotStatus
}

// BlockMetadata carries per-slot block information, produced once per slot.
type BlockMetadata struct {
	Slot        uint64
	Blockhash   string
	BlockTime   int64
	BlockHeight uint64
	ParentSlot  uint64
}
