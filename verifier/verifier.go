// Package verifier is the stateless cryptographic gate. It is the sole
// constructor of the Verified* types; every downstream component (runtime,
// consensus) accepts only values produced here, which is the mechanism
// that enforces "nothing reaches the Runtime unverified" without a runtime
// "did I check?" flag.
package verifier

import (
	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/types"
)

// VerifiedTransaction is a transaction whose wire signature has been
// checked. It can only be produced by VerifyTransaction. BodyOK reports
// whether the body decoded to a well-formed (recipient, amount, nonce)
// triple; Runtime.SubmitTransaction is responsible for rejecting malformed
// bodies, since a signature can be valid over an arbitrary (including
// empty) body.
type VerifiedTransaction struct {
	tx     types.Transaction
	bodyOK bool
}

// Transaction returns the decoded transaction. Only meaningful when BodyOK
// is true.
func (v VerifiedTransaction) Transaction() types.Transaction { return v.tx }

// BodyOK reports whether the trailing body decoded into a well-formed
// (recipient, amount, nonce) triple.
func (v VerifiedTransaction) BodyOK() bool { return v.bodyOK }

// VerifyTransaction validates a raw transaction wire payload:
// [body ‖ pubkey(32) ‖ signature(64)], total >= 96 bytes. It fails with
// FormatError if the payload is too short or the public key is malformed,
// and with SignatureError if the Ed25519 signature does not verify.
func VerifyTransaction(payload []byte) (VerifiedTransaction, error) {
	if len(payload) < types.MinTransactionLen {
		return VerifiedTransaction{}, common.NewTypedErr(common.FormatError,
			"transaction payload shorter than 96 bytes")
	}

	n := len(payload)
	body := payload[:n-types.MinTransactionLen]
	pubKeyBytes := payload[n-types.MinTransactionLen : n-crypto.SignatureSize]
	sigBytes := payload[n-crypto.SignatureSize:]

	pub, err := crypto.ParsePublicKey(pubKeyBytes)
	if err != nil {
		return VerifiedTransaction{}, common.NewTypedErr(common.FormatError, err.Error())
	}

	if !crypto.Verify(pub, payload[:n-crypto.SignatureSize], sigBytes) {
		return VerifiedTransaction{}, common.NewTypedErr(common.SignatureError,
			"transaction signature does not verify")
	}

	sender, _ := types.ValidatorIDFromBytes(pubKeyBytes)
	recipient, amount, nonce, bodyOK := types.DecodeBody(body)

	var sig [crypto.SignatureSize]byte
	copy(sig[:], sigBytes)

	tx := types.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Nonce:     nonce,
		Signature: sig,
	}

	return VerifiedTransaction{tx: tx, bodyOK: bodyOK}, nil
}

// member checks that id belongs to vs, returning UnknownValidator otherwise.
func member(vs *types.ValidatorSet, id types.ValidatorID) error {
	if !vs.Contains(id) {
		return common.NewTypedErr(common.UnknownValidator, id.Hex())
	}
	return nil
}

// VerifiedProposal is a Proposal whose proposer signature has been checked
// against a known validator set. Only VerifyProposal can produce one.
type VerifiedProposal struct {
	p types.Proposal
}

// Proposal returns the verified proposal.
func (v VerifiedProposal) Proposal() types.Proposal { return v.p }

// VerifyProposal checks that p.Proposer is a member of vs and that its
// signature verifies over the canonical encoding of every field except the
// signature.
func VerifyProposal(p types.Proposal, vs *types.ValidatorSet) (VerifiedProposal, error) {
	if err := member(vs, p.Proposer); err != nil {
		return VerifiedProposal{}, err
	}
	if !crypto.Verify(p.Proposer.Bytes(), p.SignBytes(), p.Signature[:]) {
		return VerifiedProposal{}, common.NewTypedErr(common.SignatureError, "proposal signature does not verify")
	}
	return VerifiedProposal{p: p}, nil
}

// VerifiedPrevote is a Prevote whose signature and membership have been
// checked. Only VerifyPrevote can produce one.
type VerifiedPrevote struct {
	v types.Prevote
}

// Prevote returns the verified prevote.
func (v VerifiedPrevote) Prevote() types.Prevote { return v.v }

// VerifyPrevote checks that v.Validator is a member of vs and that its
// signature verifies.
func VerifyPrevote(v types.Prevote, vs *types.ValidatorSet) (VerifiedPrevote, error) {
	if err := member(vs, v.Validator); err != nil {
		return VerifiedPrevote{}, err
	}
	if !crypto.Verify(v.Validator.Bytes(), v.SignBytes(), v.Signature[:]) {
		return VerifiedPrevote{}, common.NewTypedErr(common.SignatureError, "prevote signature does not verify")
	}
	return VerifiedPrevote{v: v}, nil
}

// VerifiedCommit is a Commit whose signature and membership have been
// checked. Only VerifyCommit can produce one.
type VerifiedCommit struct {
	c types.Commit
}

// Commit returns the verified commit.
func (v VerifiedCommit) Commit() types.Commit { return v.c }

// VerifyCommit checks that c.Validator is a member of vs and that its
// signature verifies.
func VerifyCommit(c types.Commit, vs *types.ValidatorSet) (VerifiedCommit, error) {
	if err := member(vs, c.Validator); err != nil {
		return VerifiedCommit{}, err
	}
	if !crypto.Verify(c.Validator.Bytes(), c.SignBytes(), c.Signature[:]) {
		return VerifiedCommit{}, common.NewTypedErr(common.SignatureError, "commit signature does not verify")
	}
	return VerifiedCommit{c: c}, nil
}
