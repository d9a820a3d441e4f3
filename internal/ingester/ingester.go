package ingester

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
	"github.com/anastasis-sarl/anastasis-provider/internal/wiresubject"
)

// ErrNonMonotonicWireReference is returned when the bank reports a
// transfer whose wire_reference does not strictly increase, which the
// protocol declares fatal (spec.md §4.3).
var ErrNonMonotonicWireReference = errors.New("ingester: bank returned a non-monotonic wire_reference")

// Ingester runs the long-polling import loop against one bank account.
type Ingester struct {
	bank   BankClient
	wire   *storage.WireRepository
	logger *log.Logger

	creditAccount     string
	batchSize         int
	longPollTimeout   time.Duration
	idleSleepInterval time.Duration

	// testMode exits at end-of-stream instead of sleeping and looping,
	// matching `helper-authorization-iban -t`.
	testMode bool

	onRowIngested func(bookedAt time.Time)
}

// Option configures an Ingester at construction.
type Option func(*Ingester)

// WithTestMode makes Run return as soon as one empty poll is observed,
// instead of sleeping and retrying forever.
func WithTestMode() Option {
	return func(g *Ingester) { g.testMode = true }
}

// WithRowObserver registers a callback invoked after each row is
// durably recorded, with the transfer's execution date; used to feed
// the ingestion-lag gauge without internal/ingester importing
// internal/metrics.
func WithRowObserver(fn func(bookedAt time.Time)) Option {
	return func(g *Ingester) { g.onRowIngested = fn }
}

// New builds an Ingester for creditAccount (the operator's configured
// IBAN, as a payto URI).
func New(bank BankClient, wire *storage.WireRepository, logger *log.Logger, creditAccount string, batchSize int, longPollTimeout, idleSleepInterval time.Duration, opts ...Option) *Ingester {
	g := &Ingester{
		bank:              bank,
		wire:              wire,
		logger:            logger,
		creditAccount:     creditAccount,
		batchSize:         batchSize,
		longPollTimeout:   longPollTimeout,
		idleSleepInterval: idleSleepInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes the ingestion loop until ctx is cancelled (or, in test
// mode, until the bank reports no further transfers).
func (g *Ingester) Run(ctx context.Context) error {
	lastRef, err := g.wire.GetLastAuthIBANPaymentRow(ctx, g.creditAccount)
	if err != nil {
		return fmt.Errorf("ingester: startup cursor: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		transfers, err := g.bank.CreditHistory(ctx, lastRef, g.batchSize, g.longPollTimeout)
		if err != nil {
			return fmt.Errorf("ingester: credit_history: %w", err)
		}

		if len(transfers) == 0 {
			if g.testMode {
				return nil
			}
			select {
			case <-time.After(g.idleSleepInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, xfer := range transfers {
			if xfer.WireReference <= lastRef {
				return ErrNonMonotonicWireReference
			}
			if err := g.ingestOne(ctx, xfer); err != nil {
				return err
			}
			lastRef = xfer.WireReference
		}
	}
}

func (g *Ingester) ingestOne(ctx context.Context, xfer CreditTransfer) error {
	rec := storage.InboundWireRecord{
		WireReference: xfer.WireReference,
		WireSubject:   xfer.WireSubject,
		Amount:        xfer.Amount,
		DebitAccount:  xfer.DebitAccount,
		CreditAccount: xfer.CreditAccount,
		ExecutionDate: xfer.ExecutionDate,
	}

	code, ok := wiresubject.ExtractCode(xfer.WireSubject)
	if !ok {
		if err := g.wire.RecordAuthIBANPayment(ctx, rec); err != nil {
			return fmt.Errorf("ingester: record (no code): %w", err)
		}
		if g.onRowIngested != nil {
			g.onRowIngested(xfer.ExecutionDate)
		}
		return nil
	}

	debitHash := sha256.Sum256([]byte(xfer.DebitAccount))
	spec := storage.EventSpec{Type: storage.AuthIBANTransfer, Code: code, DebitIBANHash: debitHash}
	extra := xfer.Amount.String()

	if err := g.wire.RecordAuthIBANPaymentAndNotify(ctx, rec, spec, extra); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("ingester: duplicate wire_reference %d: %w", xfer.WireReference, err)
		}
		return fmt.Errorf("ingester: record and notify: %w", err)
	}

	if g.onRowIngested != nil {
		g.onRowIngested(xfer.ExecutionDate)
	}

	g.logger.Printf("ingester: wire_reference=%d code=%d amount=%s notified", xfer.WireReference, code, extra)
	return nil
}

