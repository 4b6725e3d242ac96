package common

import "fmt"

// ErrKind is a closed enumeration of the error taxonomy shared by every
// component in the trust pipeline (verifier, runtime, consensus, store).
// Each component defines its own set of valid Kinds; Is lets callers
// test an error against one without caring which component produced it.
type ErrKind uint32

const (
	// FormatError: malformed wire payload. Verifier.
	FormatError ErrKind = iota
	// SignatureError: signature does not verify. Verifier.
	SignatureError
	// UnknownValidator: signer is not a member of the current validator set. Verifier.
	UnknownValidator
	// InvalidNonce: tx nonce is not exactly last-applied+1. Runtime.
	InvalidNonce
	// InsufficientFunds: sender balance too low to cover amount. Runtime.
	InsufficientFunds
	// DuplicateTx: tx already admitted or applied. Runtime.
	DuplicateTx
	// PrevHashMismatch: block.prev_hash does not match the stored chain tip. Runtime.
	PrevHashMismatch
	// HeightMismatch: block height is not current_height+1. Runtime.
	HeightMismatch
	// StateRootMismatch: recomputed state_root does not match the block's. Runtime.
	StateRootMismatch
	// DuplicateVote: a second vote from the same validator at the same (height, round, phase). Consensus.
	DuplicateVote
	// PhaseTimeout: the current phase's deadline fired without quorum. Consensus.
	PhaseTimeout
	// KeyNotFound: a requested artifact does not exist. Store.
	KeyNotFound
	// StoreIOError: a non-fsync I/O error, retryable once. Store.
	StoreIOError
	// StoreCorruption: on-disk state failed a continuity check at recovery. Store. Fatal.
	StoreCorruption
	// FsyncFailure: an fsync call failed mid-commit. Store. Fatal.
	FsyncFailure
	// StaleFastForward: a fast-forward target is behind the engine's
	// current height. Consensus.
	StaleFastForward
)

var errKindNames = map[ErrKind]string{
	FormatError:       "FormatError",
	SignatureError:    "SignatureError",
	UnknownValidator:  "UnknownValidator",
	InvalidNonce:      "InvalidNonce",
	InsufficientFunds: "InsufficientFunds",
	DuplicateTx:       "DuplicateTx",
	PrevHashMismatch:  "PrevHashMismatch",
	HeightMismatch:    "HeightMismatch",
	StateRootMismatch: "StateRootMismatch",
	DuplicateVote:     "DuplicateVote",
	PhaseTimeout:      "PhaseTimeout",
	KeyNotFound:       "KeyNotFound",
	StoreIOError:      "StoreIOError",
	StoreCorruption:   "StoreCorruption",
	FsyncFailure:      "FsyncFailure",
	StaleFastForward:  "StaleFastForward",
}

func (k ErrKind) String() string {
	if n, ok := errKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// TypedErr is the concrete error type every component returns for a
// recoverable rejection. It carries enough context (what, which key) to
// log without needing to re-derive it at the call site.
type TypedErr struct {
	Kind    ErrKind
	Context string
}

// NewTypedErr builds a TypedErr.
func NewTypedErr(kind ErrKind, context string) TypedErr {
	return TypedErr{Kind: kind, Context: context}
}

// Error implements the error interface.
func (e TypedErr) Error() string {
	if e.Context == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

// Is reports whether err is a TypedErr of the given Kind.
func Is(err error, kind ErrKind) bool {
	te, ok := err.(TypedErr)
	return ok && te.Kind == kind
}

// IsFatal reports whether a Kind must halt the process rather than be
// recovered from (StoreCorruption, FsyncFailure).
func (k ErrKind) IsFatal() bool {
	return k == StoreCorruption || k == FsyncFailure
}
