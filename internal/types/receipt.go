package types

import "github.com/ipfs/go-cid"

// ExitCode is the VM's non-panic outcome for a message, per §7: execution
// failures are never propagated as Go errors to the chain, only as codes.
type ExitCode int64

const (
	ExitOk ExitCode = iota
	ExitSysSenderInvalid
	ExitSysSenderStateInvalid
	ExitSysInsufficientFunds
	ExitSysOutOfGas
	ExitSysInvalidMethod
	ExitSysInvalidParams
	ExitSysAssertionFailed
	ExitErrIllegalArgument ExitCode = 16
	ExitErrNotFound        ExitCode = 17
	ExitErrForbidden       ExitCode = 18
)

func (e ExitCode) IsSuccess() bool { return e == ExitOk }

// Receipt is the §3 per-message result committed into parent_message_receipts.
type Receipt struct {
	ExitCode   ExitCode
	Return     []byte
	GasUsed    int64
	EventsRoot *cid.Cid
}
