package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func TestObserveChallengeOutcomeIncrementsByLabel(t *testing.T) {
	m := New()
	m.ObserveChallengeOutcome(authorization.Success, "sms")
	m.ObserveChallengeOutcome(authorization.Success, "sms")
	m.ObserveChallengeOutcome(authorization.Failed, "question")

	if got := testutil.ToFloat64(m.challengeOutcomes.WithLabelValues("SUCCESS", "sms")); got != 2 {
		t.Fatalf("success/sms = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.challengeOutcomes.WithLabelValues("FAILED", "question")); got != 1 {
		t.Fatalf("failed/question = %v, want 1", got)
	}
}

func TestObserveGCResultAccumulates(t *testing.T) {
	m := New()
	m.ObserveGCResult(storage.GCResult{
		AccountsExpired:          2,
		TruthsExpired:            3,
		RecdocPaymentsExpired:    1,
		ChallengePaymentsExpired: 0,
		ChallengeCodesExpired:    4,
	}, 50*time.Millisecond)

	if got := testutil.ToFloat64(m.gcAccountsExpired); got != 2 {
		t.Fatalf("accounts expired = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.gcTruthsExpired); got != 3 {
		t.Fatalf("truths expired = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.gcChallengeCodesExpired); got != 4 {
		t.Fatalf("challenge codes expired = %v, want 4", got)
	}
}

func TestRetryObserverWiresToStorage(t *testing.T) {
	m := New()
	obs := m.RetryObserver()
	obs.OnRetry()
	obs.OnRetry()
	obs.OnGiveup()

	if got := testutil.ToFloat64(m.serializableRetries); got != 2 {
		t.Fatalf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.serializableGiveups); got != 1 {
		t.Fatalf("giveups = %v, want 1", got)
	}
}

func TestObserveIngestedRowSetsLag(t *testing.T) {
	m := New()
	m.ObserveIngestedRow(time.Now().Add(-10 * time.Second))
	if got := testutil.ToFloat64(m.ingesterLagSeconds); got < 9 || got > 30 {
		t.Fatalf("lag = %v, want roughly 10", got)
	}
}
