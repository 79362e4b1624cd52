package postgres

import (
	"fmt"
	"strings"

	"github.com/geyserpg/geyserpg/internal/types"
)

// Bulk upsert statements are built per batch as a single multi-row INSERT
// so each batch costs one round trip. Conflict rules implement the
// idempotent upsert discipline: an account row with a higher write_version
// is never overwritten by a lower one, a slot status never regresses, and
// replayed transactions and blocks are no-ops.

const accountColumns = 7

func accountUpsertSQL(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO account (pubkey, slot, owner, lamports, data, write_version, is_startup, updated_on) VALUES `)
	writeValueLists(&b, rows, accountColumns)
	b.WriteString(` ON CONFLICT (pubkey, slot) DO UPDATE SET ` +
		`owner = excluded.owner, lamports = excluded.lamports, data = excluded.data, ` +
		`write_version = excluded.write_version, is_startup = excluded.is_startup, updated_on = now() ` +
		`WHERE account.write_version < excluded.write_version`)
	return b.String()
}

func accountArgs(accounts []types.AccountUpdate) []interface{} {
	args := make([]interface{}, 0, len(accounts)*accountColumns)
	for i := range accounts {
		a := &accounts[i]
		args = append(args,
			a.Pubkey.Bytes(),
			int64(a.Slot),
			a.Owner.Bytes(),
			int64(a.Lamports),
			a.Data,
			int64(a.WriteVersion),
			a.IsStartup,
		)
	}
	return args
}

const transactionColumns = 8

func transactionUpsertSQL(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO "transaction" (signature, slot, is_vote, success, fee, compute_units, log_messages, mentioned_accounts, updated_on) VALUES `)
	writeValueLists(&b, rows, transactionColumns)
	// written at most once per signature
	b.WriteString(` ON CONFLICT (signature) DO NOTHING`)
	return b.String()
}

func transactionArgs(txs []types.TransactionInfo) []interface{} {
	args := make([]interface{}, 0, len(txs)*transactionColumns)
	for i := range txs {
		tx := &txs[i]
		mentioned := make([][]byte, len(tx.MentionedAccounts))
		for j, pk := range tx.MentionedAccounts {
			mentioned[j] = pk.Bytes()
		}
		args = append(args,
			tx.Signature[:],
			int64(tx.Slot),
			tx.IsVote,
			tx.Success,
			int64(tx.Fee),
			int64(tx.ComputeUnits),
			tx.LogMessages,
			mentioned,
		)
	}
	return args
}

const slotColumns = 2

func slotUpsertSQL(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO slot (slot, status, updated_on) VALUES `)
	writeValueLists(&b, rows, slotColumns)
	// the status ordinal only ever moves forward
	b.WriteString(` ON CONFLICT (slot) DO UPDATE SET status = excluded.status, updated_on = now() ` +
		`WHERE slot.status < excluded.status`)
	return b.String()
}

func slotArgs(statuses []types.SlotStatusUpdate) []interface{} {
	args := make([]interface{}, 0, len(statuses)*slotColumns)
	for i := range statuses {
		s := &statuses[i]
		args = append(args, int64(s.Slot), int16(s.Status))
	}
	return args
}

const blockColumns = 5

func blockUpsertSQL(rows int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO block (slot, blockhash, block_time, block_height, parent_slot, updated_on) VALUES `)
	writeValueLists(&b, rows, blockColumns)
	b.WriteString(` ON CONFLICT (slot) DO NOTHING`)
	return b.String()
}

func blockArgs(blocks []types.BlockMetadata) []interface{} {
	args := make([]interface{}, 0, len(blocks)*blockColumns)
	for i := range blocks {
		blk := &blocks[i]
		args = append(args,
			int64(blk.Slot),
			blk.Blockhash,
			blk.BlockTime,
			int64(blk.BlockHeight),
			int64(blk.ParentSlot),
		)
	}
	return args
}

// writeValueLists appends "($1, ..., $c, now()), ($c+1, ...), ..." for the
// given row and column counts. The trailing now() fills updated_on.
func writeValueLists(b *strings.Builder, rows, columns int) {
	placeholder := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < columns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "$%d", placeholder)
			placeholder++
		}
		b.WriteString(", now())")
	}
}

// dedupeAccounts keeps the highest write_version per (pubkey, slot) so a
// single multi-row upsert never touches the same row twice, which
// PostgreSQL rejects within one ON CONFLICT statement.
func dedupeAccounts(accounts []types.AccountUpdate) []types.AccountUpdate {
	type key struct {
		pubkey [32]byte
		slot   uint64
	}

	index := make(map[key]int, len(accounts))
	out := accounts[:0:0]
	for i := range accounts {
		k := key{pubkey: accounts[i].Pubkey, slot: accounts[i].Slot}
		if at, ok := index[k]; ok {
			if accounts[i].WriteVersion >= out[at].WriteVersion {
				out[at] = accounts[i]
			}
			continue
		}
		index[k] = len(out)
		out = append(out, accounts[i])
	}
	return out
}

// dedupeSlotStatuses keeps the most advanced status per slot.
func dedupeSlotStatuses(statuses []types.SlotStatusUpdate) []types.SlotStatusUpdate {
	index := make(map[uint64]int, len(statuses))
	out := statuses[:0:0]
	for i := range statuses {
		if at, ok := index[statuses[i].Slot]; ok {
			if statuses[i].Status > out[at].Status {
				out[at] = statuses[i]
			}
			continue
		}
		index[statuses[i].Slot] = len(out)
		out = append(out, statuses[i])
	}
	return out
}

// dedupeTransactions drops duplicate signatures within one batch.
func dedupeTransactions(txs []types.TransactionInfo) []types.TransactionInfo {
	seen := make(map[[64]byte]struct{}, len(txs))
	out := txs[:0:0]
	for i := range txs {
		sig := [64]byte(txs[i].Signature)
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, txs[i])
	}
	return out
}

// dedupeBlocks drops duplicate slots within one batch.
func dedupeBlocks(blocks []types.BlockMetadata) []types.BlockMetadata {
	seen := make(map[uint64]struct{}, len(blocks))
	out := blocks[:0:0]
	for i := range blocks {
		if _, ok := seen[blocks[i].Slot]; ok {
			continue
		}
		seen[blocks[i].Slot] = struct{}{}
		out = append(out, blocks[i])
	}
	return out
}
