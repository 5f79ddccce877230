package governor

import "errors"

// Consistency errors: the message is authentic but the caller supplied the
// wrong live accounts. The message may be retried with corrected accounts
// because nothing is recorded before these checks pass.
var (
	ErrInvalidForeignChain   = errors.New("invalid foreign chain")
	ErrWrongAccount          = errors.New("wrong account")
	ErrWrongTokenMint        = errors.New("wrong token mint")
	ErrWrongAccountOwner     = errors.New("wrong account owner")
	ErrWrongUpgradeAuthority = errors.New("wrong upgrade authority")
)
