// Package httpapi implements the thin HTTP surface of spec.md §6: four
// routes over the storage engine, the challenge-authorization plugin
// registry and the payment gate. It owns route dispatch, payment-header
// parsing and signature verification; it is deliberately not a REST
// framework (no content negotiation, no middleware chain) — the teacher's
// own handlers (pkg/server/proof_handlers.go) are written the same way.
package httpapi

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/gate"
	"github.com/anastasis-sarl/anastasis-provider/internal/metrics"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

// PaymentHeader carries a caller-presented payment identifier, the
// "payment header" of spec.md §6's HTTP table.
const PaymentHeader = "Anastasis-Payment-Identifier"

// VersionHeader echoes the freshly written recovery-document version.
const VersionHeader = "Anastasis-Version"

// challengeLongPollWindow bounds how long one GET .../challenge request
// blocks waiting on a suspendable plugin (spec.md §5) before the HTTP
// surface resumes the connection with a 202.
const challengeLongPollWindow = 30 * time.Second

// Handlers implements the four routes of spec.md §6.
type Handlers struct {
	repos    *storage.Repositories
	registry *authorization.Registry
	gate     *gate.Gate
	logger   *log.Logger
	metrics  *metrics.Metrics

	recdocCost          amount.Amount
	defaultPostCounter  uint32
	paidAccountLifetime time.Duration
}

// WithMetrics attaches a metrics sink; challenge outcomes are recorded
// against it when set. Safe to call with nil (a no-op).
func (h *Handlers) WithMetrics(m *metrics.Metrics) *Handlers {
	h.metrics = m
	return h
}

// NewHandlers builds the HTTP surface over repos, registry and gate.
func NewHandlers(repos *storage.Repositories, registry *authorization.Registry, g *gate.Gate, logger *log.Logger, recdocCost amount.Amount, defaultPostCounter uint32, paidAccountLifetime time.Duration) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Handlers{
		repos:               repos,
		registry:            registry,
		gate:                g,
		logger:              logger,
		recdocCost:          recdocCost,
		defaultPostCounter:  defaultPostCounter,
		paidAccountLifetime: paidAccountLifetime,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (h *Handlers) writePaymentRequired(w http.ResponseWriter, id storage.PaymentIdentifier, amt amount.Amount) {
	h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
		"payment_identifier": encode32(id),
		"amount":             amt.String(),
	})
}

func encode32(b [32]byte) string { return base64.RawURLEncoding.EncodeToString(b[:]) }

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("httpapi: %q is not a 32-byte base64url value", s)
	}
	copy(out[:], raw)
	return out, nil
}

func paymentIdentifierFromRequest(r *http.Request) storage.PaymentIdentifier {
	raw := r.Header.Get(PaymentHeader)
	if raw == "" {
		return storage.PaymentIdentifier{}
	}
	id, err := decode32(raw)
	if err != nil {
		return storage.PaymentIdentifier{}
	}
	return id
}

// ---------------------------------------------------------------------
// POST /truth/$UUID
// ---------------------------------------------------------------------

type storeTruthRequest struct {
	EncryptedTruth []byte `json:"encrypted_truth"`
	KeyShare       []byte `json:"key_share"`
	Method         string `json:"method"`
	Mime           string `json:"mime"`
}

// HandleStoreTruth implements POST /truth/$UUID. Storage of a truth
// carries no per-upload fee in this configuration (no cost is wired for
// it — see DESIGN.md); a presented payment header is still recorded for
// audit via TruthUploadPayments, matching the original's bookkeeping
// table without gating on it.
func (h *Handlers) HandleStoreTruth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/truth/")
	uuidStr := strings.TrimSuffix(path, "/")
	truthUUID, err := decode32(uuidStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_TRUTH_UUID", err.Error())
		return
	}

	var req storeTruthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	plugin, err := h.registry.Lookup(req.Method)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "UNKNOWN_METHOD", err.Error())
		return
	}
	if err := plugin.Validate(req.Mime, req.EncryptedTruth); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_TRUTH", err.Error())
		return
	}

	ctx := r.Context()
	expiration := time.Now().Add(365 * 24 * time.Hour)

	t := storage.Truth{
		TruthUUID:      truthUUID,
		KeyShare:       req.KeyShare,
		MethodName:     req.Method,
		MimeType:       req.Mime,
		EncryptedTruth: req.EncryptedTruth,
		Expiration:     expiration,
	}
	if err := h.repos.Truths.StoreTruth(ctx, t); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			h.writeError(w, http.StatusConflict, "TRUTH_EXISTS", "a truth already exists under this UUID")
			return
		}
		h.logger.Printf("store_truth: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store truth")
		return
	}

	if id := paymentIdentifierFromRequest(r); id != (storage.PaymentIdentifier{}) {
		_ = id // presented identifier acknowledged; no per-upload fee is configured.
		if err := h.repos.TruthUploadPayments.RecordTruthUploadPayment(ctx, truthUUID, amount.Zero(h.recdocCost.Currency), expiration); err != nil {
			h.logger.Printf("record_truth_upload_payment: %v", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------
// POST /policy/$ACCOUNT_PUB
// ---------------------------------------------------------------------

type storePolicyRequest struct {
	RecoveryData []byte `json:"recovery_data"`
	AccountSig   []byte `json:"account_sig"`
}

// HandleStorePolicy implements POST /policy/$ACCOUNT_PUB.
func (h *Handlers) HandleStorePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	pubStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/policy/"), "/")
	pub, err := decode32(pubStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ACCOUNT_PUB", err.Error())
		return
	}

	var req storePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if len(req.AccountSig) != ed25519.SignatureSize {
		h.writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "account_sig must be 64 bytes")
		return
	}

	hash := sha512.Sum512(req.RecoveryData)
	if !ed25519.Verify(pub[:], hash[:], req.AccountSig) {
		h.writeError(w, http.StatusForbidden, "SIGNATURE_MISMATCH", "account_sig does not verify over recovery_data")
		return
	}

	ctx := r.Context()
	presented := paymentIdentifierFromRequest(r)
	decision, err := h.gate.CheckRecdocUpload(ctx, pub, presented, h.recdocCost, h.defaultPostCounter)
	if err != nil {
		h.logger.Printf("check_recdoc_upload: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "payment gate failure")
		return
	}
	if !decision.Admit {
		h.writePaymentRequired(w, decision.PaymentIdentifier, h.recdocCost)
		return
	}

	status, version, err := h.repos.RecoveryDocuments.StoreRecoveryDocument(ctx, pub, req.AccountSig, hash, req.RecoveryData, presented)
	if err != nil {
		h.logger.Printf("store_recovery_document: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store recovery document")
		return
	}

	switch status {
	case storage.StoreSuccess, storage.StoreNoResults:
		if _, err := h.repos.Accounts.IncrementLifetime(ctx, pub, presented, h.paidAccountLifetime); err != nil {
			h.logger.Printf("increment_lifetime: %v", err)
		}
		w.Header().Set(VersionHeader, strconv.FormatUint(uint64(version), 10))
		w.WriteHeader(http.StatusNoContent)
	case storage.StorePaymentRequired:
		fresh, err := h.gate.CheckRecdocUpload(ctx, pub, storage.PaymentIdentifier{}, h.recdocCost, h.defaultPostCounter)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "payment gate failure")
			return
		}
		h.writePaymentRequired(w, fresh.PaymentIdentifier, h.recdocCost)
	case storage.StoreLimitExceeded:
		h.writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_LIMIT_EXCEEDED", "this payment identifier has no uploads left; pay again")
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "store_recovery_document: "+status.String())
	}
}

// ---------------------------------------------------------------------
// GET /policy/$ACCOUNT_PUB[/$V]
// ---------------------------------------------------------------------

// HandleGetPolicy implements GET /policy/$ACCOUNT_PUB[/$V].
func (h *Handlers) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/policy/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	pub, err := decode32(parts[0])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ACCOUNT_PUB", err.Error())
		return
	}

	var version *uint32
	if len(parts) > 1 && parts[1] != "" {
		v, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be a non-negative integer")
			return
		}
		vv := uint32(v)
		version = &vv
	}

	ctx := r.Context()
	decision, err := h.gate.CheckAccountExpiration(ctx, pub)
	if err != nil {
		h.logger.Printf("check_account_expiration: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "payment gate failure")
		return
	}
	if !decision.Admit {
		h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"hint": "account expired or unknown; upload a recovery document to (re-)pay",
		})
		return
	}

	doc, err := h.repos.RecoveryDocuments.GetRecoveryDocument(ctx, pub, version)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "no recovery document at this version")
		return
	}
	if err != nil {
		h.logger.Printf("get_recovery_document: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load recovery document")
		return
	}

	w.Header().Set(VersionHeader, strconv.FormatUint(uint64(doc.Version), 10))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recovery_data": doc.RecoveryData,
		"account_sig":   doc.AccountSig,
		"version":       doc.Version,
	})
}

// ---------------------------------------------------------------------
// GET /truth/$UUID/challenge
// ---------------------------------------------------------------------

// challengeCodeHash hashes a candidate code the same way regardless of
// origin (stored or client-presented), so VerifyChallengeCode can
// compare by hash rather than by raw integer equality.
func challengeCodeHash(code uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], code)
	return sha256.Sum256(buf[:])
}

// HandleChallenge implements GET /truth/$UUID/challenge.
func (h *Handlers) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/truth/")
	uuidStr := strings.TrimSuffix(path, "/challenge")
	truthUUID, err := decode32(strings.TrimSuffix(uuidStr, "/"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_TRUTH_UUID", err.Error())
		return
	}

	ctx := r.Context()
	ec, err := h.repos.Truths.GetEscrowChallenge(ctx, truthUUID)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "no truth stored under this UUID")
		return
	}
	if err != nil {
		h.logger.Printf("get_escrow_challenge: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load truth")
		return
	}

	plugin, err := h.registry.Lookup(ec.MethodName)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "UNKNOWN_METHOD", err.Error())
		return
	}
	meta := plugin.Metadata()
	response := r.URL.Query().Get("response")

	// A non-empty response against a server-minted code is verified
	// directly; user_provided_code methods (TOTP) instead hand response
	// to the plugin itself, since only the plugin can recompute the
	// acceptable time-windowed codes.
	if response != "" && !meta.UserProvidedCode {
		h.verifyResponse(w, r, truthUUID, response)
		return
	}

	if !meta.PaymentPluginManaged {
		presented := paymentIdentifierFromRequest(r)
		decision, err := h.gate.CheckChallengeIssuance(ctx, truthUUID, presented, meta)
		if err != nil {
			h.logger.Printf("check_challenge_issuance: %v", err)
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "payment gate failure")
			return
		}
		if !decision.Admit {
			h.writePaymentRequired(w, decision.PaymentIdentifier, meta.Cost)
			return
		}
	}

	status, cc, err := h.repos.ChallengeCodes.CreateChallengeCode(ctx, truthUUID, meta.CodeRotationPeriod, meta.CodeValidityPeriod, meta.RetryCounter)
	if err != nil {
		h.logger.Printf("create_challenge_code: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to mint challenge code")
		return
	}
	if status == storage.CreateCodeNoResults {
		h.writeError(w, http.StatusForbidden, "RETRY_EXHAUSTED", "too many wrong guesses; wait for the current code to expire")
		return
	}

	state, err := plugin.Start(ctx, truthUUID, cc.Code, ec.EncryptedTruth)
	if err != nil {
		h.logger.Printf("plugin start: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to start challenge")
		return
	}
	defer plugin.Cleanup(state)

	deadline := time.Now().Add(challengeLongPollWindow)
	outcome, err := plugin.Process(ctx, state, deadline, response)
	if err != nil {
		h.logger.Printf("plugin process: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to process challenge")
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveChallengeOutcome(outcome.Result, ec.MethodName)
	}

	switch outcome.Result {
	case authorization.Success:
		var paymentIdentifier *storage.PaymentIdentifier
		if !meta.PaymentPluginManaged && !meta.Cost.IsZero() {
			presented := paymentIdentifierFromRequest(r)
			paymentIdentifier = &presented
		}
		if err := h.repos.ChallengeCodes.MarkChallengeSent(ctx, truthUUID, cc.Code, time.Now(), paymentIdentifier); err != nil {
			h.logger.Printf("mark_challenge_sent: %v", err)
		}
		h.writeChallengeBody(w, outcome)
	case authorization.Failed:
		h.writeChallengeBody(w, outcome)
	case authorization.Finished:
		keyShare, err := h.repos.Truths.GetKeyShare(ctx, truthUUID)
		if err != nil {
			h.logger.Printf("get_key_share: %v", err)
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to release key share")
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"key_share": keyShare})
	case authorization.Suspended:
		h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"hint": "still waiting; retry with the same request",
		})
	case authorization.SuccessReplyFailed, authorization.FailedReplyFailed:
		h.logger.Printf("challenge reply could not be queued (%s); closing connection", outcome.Result)
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unknown process result")
	}
}

func (h *Handlers) writeChallengeBody(w http.ResponseWriter, outcome authorization.Outcome) {
	status := outcome.StatusCode
	if status == 0 {
		status = http.StatusForbidden
	}
	if outcome.ContentType != "" {
		w.Header().Set("Content-Type", outcome.ContentType)
	}
	w.WriteHeader(status)
	w.Write(outcome.Body)
}

func (h *Handlers) verifyResponse(w http.ResponseWriter, r *http.Request, truthUUID storage.TruthUUID, response string) {
	code, err := strconv.ParseUint(response, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_RESPONSE", "response must be a decimal challenge code")
		return
	}

	ctx := r.Context()
	target := challengeCodeHash(code)
	status, matched, satisfied, err := h.repos.ChallengeCodes.VerifyChallengeCode(ctx, truthUUID, challengeCodeHash, target)
	if err != nil {
		h.logger.Printf("verify_challenge_code: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to verify challenge code")
		return
	}

	switch status {
	case storage.CodeValidStored:
		if !satisfied {
			if err := h.repos.ChallengeCodes.MarkChallengeCodeSatisfied(ctx, truthUUID, matched); err != nil {
				h.logger.Printf("mark_challenge_code_satisfied: %v", err)
			}
		}
		keyShare, err := h.repos.Truths.GetKeyShare(ctx, truthUUID)
		if err != nil {
			h.logger.Printf("get_key_share: %v", err)
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to release key share")
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"key_share": keyShare})
	case storage.CodeMismatch:
		h.writeJSON(w, http.StatusForbidden, map[string]interface{}{"hint": "mismatch"})
	case storage.CodeNoResults:
		h.writeJSON(w, http.StatusForbidden, map[string]interface{}{"hint": "no_results"})
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "verify_challenge_code: "+status.String())
	}
}
