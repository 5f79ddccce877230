package state

// Received is the replay-protection record: one per processed governance
// message, keyed by (chain, sequence). Its existence is the proof that a
// message was dispatched; the nonce and message hash are kept for audit and
// never re-verified.
type Received struct {
	Chain       uint16
	Sequence    uint64
	Nonce       uint32
	MessageHash [32]byte
}
