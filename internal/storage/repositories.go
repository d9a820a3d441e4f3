package storage

import "time"

// Repositories holds all repository instances over a single Client,
// the convenience wrapper the HTTP surface and plugin framework are
// constructed against.
type Repositories struct {
	Accounts            *AccountRepository
	RecoveryDocuments    *RecoveryDocumentRepository
	Truths              *TruthRepository
	TruthUploadPayments *TruthUploadPaymentRepository
	RecdocPayments      *RecdocPaymentRepository
	ChallengePayments   *ChallengePaymentRepository
	ChallengeCodes      *ChallengeCodeRepository
	Wire                *WireRepository
	GC                  *GCRepository
}

// NewRepositories creates all repositories bound to client.
func NewRepositories(client *Client, transientAccountLifetime time.Duration) *Repositories {
	db := client.DB()
	challengePayments := NewChallengePaymentRepository(db)
	return &Repositories{
		Accounts:            NewAccountRepository(db),
		RecoveryDocuments:   NewRecoveryDocumentRepository(db),
		Truths:              NewTruthRepository(db),
		TruthUploadPayments: NewTruthUploadPaymentRepository(db),
		RecdocPayments:      NewRecdocPaymentRepository(db, transientAccountLifetime),
		ChallengePayments:   challengePayments,
		ChallengeCodes:      NewChallengeCodeRepository(db, challengePayments),
		Wire:                NewWireRepository(db),
		GC:                  NewGCRepository(db),
	}
}
