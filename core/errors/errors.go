package errors

import (
	stderrors "errors"
	"fmt"

	nativecommon "custodychain/native/common"
)

// Admission failures. The call never reaches the ledger and consumes no nonce.
var (
	ErrNonceMismatch = stderrors.New("admission: nonce mismatch")
	ErrUnknownCall   = stderrors.New("admission: unknown call type")
	ErrBadSignature  = stderrors.New("admission: invalid signature")
)

// Rejections. The call is admitted, its writes are discarded and its nonce is
// consumed.
var (
	ErrNotPayable         = fmt.Errorf("%w: call does not accept value", nativecommon.ErrRejected)
	ErrInsufficientFunds  = fmt.Errorf("%w: insufficient funds for attached value", nativecommon.ErrRejected)
	ErrInvalidPayload     = fmt.Errorf("%w: invalid call payload", nativecommon.ErrRejected)
	ErrUnknownContract    = fmt.Errorf("%w: target is not a deployed instance of this protocol", nativecommon.ErrRejected)
	ErrTransferToContract = fmt.Errorf("%w: plain transfers to protocol instances are not accepted", nativecommon.ErrRejected)
	ErrQuotaExceeded      = fmt.Errorf("%w: caller quota exceeded", nativecommon.ErrRejected)
)

// IsRejection reports whether err is a protocol-level rejection rather than an
// infrastructure fault.
func IsRejection(err error) bool {
	return stderrors.Is(err, nativecommon.ErrRejected)
}
