package types

// Batch is an ordered group of same-kind records handed from the
// accumulator to a worker. Exactly one of the record slices is populated,
// matching Kind. Ownership transfers with the batch: once dispatched, the
// accumulator never touches it again.
type Batch struct {
	Kind Kind

	// Seq is a per-process monotonically increasing sequence number,
	// used only for diagnostics.
	Seq uint64

	Accounts     []AccountUpdate
	Transactions []TransactionInfo
	SlotStatuses []SlotStatusUpdate
	Blocks       []BlockMetadata
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	switch b.Kind {
	case KindAccount:
		return len(b.Accounts)
	case KindTransaction:
		return len(b.Transactions)
	case KindSlotStatus:
		return len(b.SlotStatuses)
	case KindBlockMetadata:
		return len(b.Blocks)
	default:
		return 0
	}
}

// SlotRange returns the lowest and highest slot carried by the batch.
// Used for failure diagnostics so operators can correlate dropped batches
// with store gaps.
func (b *Batch) SlotRange() (lo, hi uint64) {
	first := true
	visit := func(slot uint64) {
		if first {
			lo, hi = slot, slot
			first = false
			return
		}
		if slot < lo {
			lo = slot
		}
		if slot > hi {
			hi = slot
		}
	}

	switch b.Kind {
	case KindAccount:
		for i := range b.Accounts {
			visit(b.Accounts[i].Slot)
		}
	case KindTransaction:
		for i := range b.Transactions {
			visit(b.Transactions[i].Slot)
		}
	case KindSlotStatus:
		for i := range b.SlotStatuses {
			visit(b.SlotStatuses[i].Slot)
		}
	case KindBlockMetadata:
		for i := range b.Blocks {
			visit(b.Blocks[i].Slot)
		}
	}

	return lo, hi
}

// Slots returns the distinct slots carried by the batch, in first-seen
// order. The slot tracker counts outstanding batches per slot with these.
func (b *Batch) Slots() []uint64 {
	seen := make(map[uint64]struct{})
	var slots []uint64
	visit := func(slot uint64) {
		if _, ok := seen[slot]; ok {
			return
		}
		seen[slot] = struct{}{}
		slots = append(slots, slot)
	}

	switch b.Kind {
	case KindAccount:
		for i := range b.Accounts {
			visit(b.Accounts[i].Slot)
		}
	case KindTransaction:
		for i := range b.Transactions {
			visit(b.Transactions[i].Slot)
		}
	case KindSlotStatus:
		for i := range b.SlotStatuses {
			visit(b.SlotStatuses[i].Slot)
		}
	case KindBlockMetadata:
		for i := range b.Blocks {
			visit(b.Blocks[i].Slot)
		}
	}

	return slots
}
