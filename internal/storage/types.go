package storage

import (
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
)

// AccountPub is a 32-byte Ed25519-style account public key.
type AccountPub [32]byte

// TruthUUID identifies one stored Truth.
type TruthUUID [32]byte

// PaymentIdentifier is a 32-byte nonce identifying one billing unit.
type PaymentIdentifier [32]byte

// Account is a client-chosen public key under which recovery documents
// are stored (spec.md §3).
type Account struct {
	AccountPub     AccountPub
	ExpirationDate time.Time
}

// RecoveryDocument is one version of an account's opaque backup blob.
type RecoveryDocument struct {
	AccountPub      AccountPub
	Version         uint32
	AccountSig      []byte // signature over RecoveryDataHash by AccountPub
	RecoveryDataHash [64]byte // SHA-512 of RecoveryData
	RecoveryData    []byte
	CreatedAt       time.Time
}

// Truth is the provider-held record for one authentication method.
type Truth struct {
	TruthUUID      TruthUUID
	KeyShare       []byte // encrypted 32-byte share
	MethodName     string
	MimeType       string
	EncryptedTruth []byte
	Expiration     time.Time
}

// TruthUploadPayment evidences that storage of a Truth is paid for.
type TruthUploadPayment struct {
	TruthUUID  TruthUUID
	Amount     amount.Amount
	Expiration time.Time
}

// RecdocPaymentID is the identifier type for recovery-document payments
// (spec.md §9 open question 1). It and ChallengePaymentID are both
// aliases of PaymentIdentifier, so the compiler does not tell them
// apart; the two identifier spaces are kept apart only by living in
// separate tables.
type RecdocPaymentID = PaymentIdentifier

// RecoveryDocumentPayment tracks a paid or pending recdoc-upload order.
type RecoveryDocumentPayment struct {
	AccountPub        AccountPub
	PaymentIdentifier RecdocPaymentID
	Amount            amount.Amount
	PostCounter       uint32
	CreationDate      time.Time
	Paid              bool
}

// ChallengePaymentID is the identifier type for challenge payments.
type ChallengePaymentID = PaymentIdentifier

// ChallengePayment identifies one paid challenge-issuance attempt
// against a specific Truth.
type ChallengePayment struct {
	TruthUUID         TruthUUID
	PaymentIdentifier ChallengePaymentID
	Amount            amount.Amount
	Counter           uint32
	CreationDate      time.Time
	Paid              bool
	Refunded          bool
}

// ChallengeCode is the per-challenge one-time secret delivered to the
// user over the authentication method's side channel.
type ChallengeCode struct {
	TruthUUID          TruthUUID
	Code               uint64 // <= 2^52
	CreationDate       time.Time
	ExpirationDate     time.Time
	RetryCounter       uint32
	RetransmissionDate time.Time
	Satisfied          bool
}

// InboundWireRecord is written exactly once per observed bank transfer.
type InboundWireRecord struct {
	WireReference  uint64 // monotonic, primary key
	WireSubject    string
	Amount         amount.Amount
	DebitAccount   string // payto URI
	CreditAccount  string // payto URI
	ExecutionDate  time.Time
}
