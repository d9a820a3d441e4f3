package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/config"
)

// hashCode mirrors the plugin-side "compare only by hash of the
// numeric code" rule (spec.md §3 global invariants).
func hashCode(code uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], code)
	return sha256.Sum256(buf[:])
}

// Integration tests run only against a real Postgres instance named by
// ANASTASIS_TEST_DB, mirroring the teacher's CERTEN_TEST_DB skip
// pattern — they are not exercised in this offline environment but
// document and pin the round-trip laws and scenarios of spec.md §8.
var testClient *Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("ANASTASIS_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	cfg := &config.Config{DatabaseURL: connStr, DatabaseMaxConns: 5, DatabaseMinConns: 1}
	var err error
	testClient, err = NewClient(cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := testClient.DropTables(context.Background()); err != nil {
		panic(err)
	}
	if err := testClient.CreateTables(context.Background()); err != nil {
		panic(err)
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func freshRepos(t *testing.T) *Repositories {
	t.Helper()
	if testClient == nil {
		t.Skip("test database not configured (set ANASTASIS_TEST_DB)")
	}
	if _, err := testClient.DB().Exec(`TRUNCATE accounts, truths CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewRepositories(testClient, 7*24*time.Hour)
}

func randomAccountPub(t *testing.T) AccountPub {
	t.Helper()
	var pub AccountPub
	if _, err := rand.Read(pub[:]); err != nil {
		t.Fatal(err)
	}
	return pub
}

// TestFreshBackupScenario mirrors spec.md §8 scenario 1.
func TestFreshBackupScenario(t *testing.T) {
	repos := freshRepos(t)
	ctx := context.Background()

	acct := randomAccountPub(t)
	var pid PaymentIdentifier
	copy(pid[:], []byte("payment-identifier-one-12345678"))

	if err := repos.RecdocPayments.RecordRecdocPayment(ctx, acct, pid, amount.MustParse("EUR:1"), 3); err != nil {
		t.Fatalf("RecordRecdocPayment: %v", err)
	}
	if _, err := repos.Accounts.IncrementLifetime(ctx, acct, pid, 365*24*time.Hour); err != nil {
		t.Fatalf("IncrementLifetime: %v", err)
	}

	h1 := sha512.Sum512([]byte("blob1"))
	status, version, err := repos.RecoveryDocuments.StoreRecoveryDocument(ctx, acct, []byte("sig"), h1, []byte("blob1"), pid)
	if err != nil || status != StoreSuccess || version != 1 {
		t.Fatalf("store 1: status=%v version=%d err=%v", status, version, err)
	}

	h2 := sha512.Sum512([]byte("blob2"))
	status, version, err = repos.RecoveryDocuments.StoreRecoveryDocument(ctx, acct, []byte("sig"), h2, []byte("blob2"), pid)
	if err != nil || status != StoreSuccess || version != 2 {
		t.Fatalf("store 2: status=%v version=%d err=%v", status, version, err)
	}

	status, version, err = repos.RecoveryDocuments.StoreRecoveryDocument(ctx, acct, []byte("sig"), h2, []byte("blob2"), pid)
	if err != nil || status != StoreNoResults || version != 2 {
		t.Fatalf("store dup: status=%v version=%d err=%v", status, version, err)
	}

	h3 := sha512.Sum512([]byte("blob3"))
	status, version, err = repos.RecoveryDocuments.StoreRecoveryDocument(ctx, acct, []byte("sig"), h3, []byte("blob3"), pid)
	if err != nil || status != StoreSuccess || version != 3 {
		t.Fatalf("store 3: status=%v version=%d err=%v", status, version, err)
	}

	h4 := sha512.Sum512([]byte("blob4"))
	status, _, err = repos.RecoveryDocuments.StoreRecoveryDocument(ctx, acct, []byte("sig"), h4, []byte("blob4"), pid)
	if err != nil || status != StoreLimitExceeded {
		t.Fatalf("store 4: expected STORE_LIMIT_EXCEEDED, got status=%v err=%v", status, err)
	}
}

// TestChallengeCodeMismatchThenSuccess mirrors spec.md §8 scenario 2.
func TestChallengeCodeMismatchThenSuccess(t *testing.T) {
	repos := freshRepos(t)
	ctx := context.Background()

	var truthUUID TruthUUID
	copy(truthUUID[:], []byte("truth-uuid-for-question-01234567"))
	err := repos.Truths.StoreTruth(ctx, Truth{
		TruthUUID:      truthUUID,
		KeyShare:       []byte("keyshare"),
		MethodName:     "question",
		MimeType:       "text/plain",
		EncryptedTruth: []byte("enc"),
		Expiration:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("StoreTruth: %v", err)
	}

	status, code, err := repos.ChallengeCodes.CreateChallengeCode(ctx, truthUUID, time.Hour, 24*time.Hour, 3)
	if err != nil || status != CreateCodeOneResult {
		t.Fatalf("CreateChallengeCode: status=%v err=%v", status, err)
	}

	hashFn := func(c uint64) [32]byte { return hashCode(c) }
	wrongHash := hashFn(code.Code - 1)
	cs, _, _, err := repos.ChallengeCodes.VerifyChallengeCode(ctx, truthUUID, hashFn, wrongHash)
	if err != nil || cs != CodeMismatch {
		t.Fatalf("VerifyChallengeCode(wrong): status=%v err=%v", cs, err)
	}

	rightHash := hashFn(code.Code)
	cs, gotCode, _, err := repos.ChallengeCodes.VerifyChallengeCode(ctx, truthUUID, hashFn, rightHash)
	if err != nil || cs != CodeValidStored || gotCode != code.Code {
		t.Fatalf("VerifyChallengeCode(right): status=%v err=%v", cs, err)
	}

	if err := repos.ChallengeCodes.MarkChallengeCodeSatisfied(ctx, truthUUID, code.Code); err != nil {
		t.Fatalf("MarkChallengeCodeSatisfied: %v", err)
	}
	if err := repos.ChallengeCodes.MarkChallengeCodeSatisfied(ctx, truthUUID, code.Code); err != nil {
		t.Fatalf("MarkChallengeCodeSatisfied (idempotent): %v", err)
	}

	ks, err := repos.Truths.GetKeyShare(ctx, truthUUID)
	if err != nil || string(ks) != "keyshare" {
		t.Fatalf("GetKeyShare: %v %q", err, ks)
	}
}

func TestRotationIdempotency(t *testing.T) {
	repos := freshRepos(t)
	ctx := context.Background()

	var truthUUID TruthUUID
	copy(truthUUID[:], []byte("truth-uuid-for-rotation-0123456"))
	if err := repos.Truths.StoreTruth(ctx, Truth{
		TruthUUID: truthUUID, KeyShare: []byte("k"), MethodName: "question",
		MimeType: "text/plain", EncryptedTruth: []byte("e"), Expiration: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	_, first, err := repos.ChallengeCodes.CreateChallengeCode(ctx, truthUUID, time.Hour, 24*time.Hour, 3)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := repos.ChallengeCodes.CreateChallengeCode(ctx, truthUUID, time.Hour, 24*time.Hour, 3)
	if err != nil {
		t.Fatal(err)
	}
	if first.Code != second.Code {
		t.Fatalf("expected same code within rotation period, got %d vs %d", first.Code, second.Code)
	}
}
