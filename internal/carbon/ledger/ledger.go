// Package ledger implements the append-only, per-carrier hash chain that
// backs carbon records.
//
// Each carrier owns an independent chain ordered by Sequence. The first
// record of a chain (the genesis record) has a nil PrevRecordHash; every
// later record stores the RecordHash of its predecessor, so rewriting any
// committed record is detectable by re-hashing the chain.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for tests and single-node development.
//   - PostgresStore: durable, for production use.
package ledger
