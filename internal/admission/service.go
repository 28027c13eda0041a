// Package admission scores and commits a single proposed transfer.
//
// The account reads, the velocity count, the transaction insert, the
// balance updates and the alert insert share one atomic unit. A crash
// never leaves a debited sender without a credited receiver.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Request is a proposed transfer.
type Request struct {
	SenderAccountID   string          `json:"sender_account_id"`
	ReceiverAccountID string          `json:"receiver_account_id"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	DeviceID          string          `json:"device_id,omitempty"`
	IPAddressID       string          `json:"ip_address_id,omitempty"`
}

// Validate checks the request shape.
func (r *Request) Validate() error {
	switch {
	case r.SenderAccountID == "" || r.ReceiverAccountID == "":
		return fmt.Errorf("%w: sender and receiver accounts are required", domain.ErrValidation)
	case r.SenderAccountID == r.ReceiverAccountID:
		return fmt.Errorf("%w: sender and receiver must differ", domain.ErrValidation)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return nil
}

// Service admits transfers.
type Service struct {
	store     domain.TransferStore
	engine    *rules.Engine
	processor *rules.Processor
	velocity  *velocity.Service
	bus       domain.EventBus
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	loc       *time.Location
	now       func() time.Time
}

// NewService creates an admission service. bus and m may be nil.
func NewService(store domain.TransferStore, engine *rules.Engine, eventBus domain.EventBus, m *metrics.Metrics, cfg domain.AdmissionConfig) (*Service, error) {
	loc := time.Local
	if cfg.TimeZone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("failed to load time zone %q: %w", cfg.TimeZone, err)
		}
	}

	return &Service{
		store:     store,
		engine:    engine,
		processor: rules.NewProcessor(),
		velocity:  velocity.NewService(cfg.VelocityWindow),
		bus:       eventBus,
		metrics:   m,
		tracer:    otel.Tracer("kestrel/admission"),
		loc:       loc,
		now:       time.Now,
	}, nil
}

// Admit validates, scores and commits a transfer. Refusals are returned as
// *Rejection; storage failures are returned as they are.
func (s *Service) Admit(ctx context.Context, req Request) (*domain.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "admission.admit",
		trace.WithAttributes(
			attribute.String("sender_account_id", req.SenderAccountID),
			attribute.String("receiver_account_id", req.ReceiverAccountID),
		),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		s.metrics.RecordRejection(CodeValidation)
		return nil, &Rejection{Code: CodeValidation, Reason: err.Error(), Err: err}
	}

	now := s.now()
	decision := &domain.Decision{
		TransactionID: uuid.New().String(),
		CreatedAt:     now.UTC(),
	}
	var alert *domain.Alert

	err := s.store.WithinTransfer(ctx, func(ctx context.Context, tx domain.TransferTx) error {
		sender, receiver, err := lockPair(ctx, tx, req.SenderAccountID, req.ReceiverAccountID)
		if err != nil {
			return err
		}
		if rej := checkAccounts(sender, receiver, req); rej != nil {
			return rej
		}

		count, err := s.velocity.GetTransactionCount(ctx, tx, sender.ID, now)
		if err != nil {
			return err
		}

		results, err := s.engine.EvaluateAll(ctx, &rules.Input{
			Amount:          req.Amount.InexactFloat64(),
			Currency:        sender.Currency,
			SenderID:        sender.ID,
			ReceiverID:      receiver.ID,
			SenderRisk:      sender.RiskLevel,
			ReceiverRisk:    receiver.RiskLevel,
			ReceiverBlocked: receiver.Blocked,
			VelocityCount:   count,
			Hour:            now.In(s.loc).Hour(),
		})
		if err != nil {
			return err
		}
		check := s.processor.Process(results)
		decision.FraudCheck = check
		decision.Status = domain.StatusForScore(check.Score)

		txn := &domain.Transaction{
			ID:                decision.TransactionID,
			SenderAccountID:   sender.ID,
			ReceiverAccountID: receiver.ID,
			Amount:            req.Amount,
			Currency:          sender.Currency,
			Type:              "transfer",
			Description:       req.Description,
			Status:            decision.Status,
			Timestamp:         decision.CreatedAt,
			DeviceID:          req.DeviceID,
			IPAddressID:       req.IPAddressID,
			FraudScore:        check.Score,
			IsFlagged:         check.IsFlagged,
		}
		if check.IsFlagged {
			txn.FlaggedReason = check.Reason
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		// Balances move only for completed transfers
		if decision.Status == domain.StatusCompleted {
			if err := tx.SetBalance(ctx, sender.ID, sender.Balance.Sub(req.Amount)); err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, receiver.ID, receiver.Balance.Add(req.Amount)); err != nil {
				return err
			}
		}

		if check.IsFlagged {
			alert = newTransferAlert(decision.TransactionID, sender.ID, receiver.ID, check, decision.CreatedAt)
			if _, err := tx.InsertAlert(ctx, alert); err != nil {
				return err
			}
			decision.AlertID = alert.ID
		}
		return nil
	})

	if err != nil {
		span.RecordError(err)
		if rej, ok := AsRejection(err); ok {
			s.metrics.RecordRejection(rej.Code)
			slog.Info("transfer rejected",
				"sender_account_id", req.SenderAccountID,
				"receiver_account_id", req.ReceiverAccountID,
				"code", rej.Code,
			)
			return nil, rej
		}
		return nil, err
	}

	s.metrics.RecordAdmission(decision.Status, decision.FraudCheck.Score)
	span.SetAttributes(
		attribute.String("status", decision.Status),
		attribute.Float64("score", decision.FraudCheck.Score),
	)
	slog.Info("transfer admitted",
		"transaction_id", decision.TransactionID,
		"status", decision.Status,
		"score", decision.FraudCheck.Score,
		"flags", decision.FraudCheck.Flags,
	)

	s.publish(ctx, decision, alert)
	return decision, nil
}

// lockPair locks both accounts in ID order so concurrent opposite transfers
// cannot deadlock. A missing account is returned as nil.
func lockPair(ctx context.Context, tx domain.TransferTx, senderID, receiverID string) (*domain.Account, *domain.Account, error) {
	ids := []string{senderID, receiverID}
	sort.Strings(ids)

	locked := make(map[string]*domain.Account, 2)
	for _, id := range ids {
		acc, err := tx.LockAccount(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		locked[id] = acc
	}
	return locked[senderID], locked[receiverID], nil
}

// checkAccounts applies the admission preconditions in order.
func checkAccounts(sender, receiver *domain.Account, req Request) *Rejection {
	switch {
	case sender == nil:
		return reject(CodeNotFound, domain.ErrNotFound, "Sender account not found")
	case sender.Blocked:
		return blockedSender()
	case !sender.Active:
		return reject(CodeAccountInactive, domain.ErrAccountInactive, "Sender account is not active")
	case sender.Balance.LessThan(req.Amount):
		return reject(CodeInsufficientFunds, domain.ErrInsufficientFunds, "Insufficient funds")
	case receiver == nil:
		return reject(CodeNotFound, domain.ErrNotFound, "Receiver account not found")
	case !receiver.Active:
		return reject(CodeAccountInactive, domain.ErrAccountInactive, "Receiver account is not active")
	}
	return nil
}

func newTransferAlert(txID, senderID, receiverID string, check domain.FraudCheck, at time.Time) *domain.Alert {
	alertType := check.FirstFlag()
	if alertType == "" {
		alertType = "suspicious"
	}
	return &domain.Alert{
		ID:             uuid.New().String(),
		AlertType:      alertType,
		Severity:       domain.SeverityFor(check.Score),
		Title:          "Flagged Transfer",
		Description:    check.Reason,
		RiskScore:      check.Score,
		AutoGenerated:  true,
		Status:         domain.AlertStatusOpen,
		CreatedAt:      at,
		IdempotencyKey: "admission:" + txID,
		Accounts:       []string{senderID, receiverID},
		TransactionID:  txID,
	}
}

// publish announces a committed decision. Bus failures are logged only.
func (s *Service) publish(ctx context.Context, decision *domain.Decision, alert *domain.Alert) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicDecision, decision); err != nil {
		slog.Warn("failed to publish decision", "transaction_id", decision.TransactionID, "error", err)
	}
	if alert != nil {
		if err := bus.PublishJSON(ctx, s.bus, domain.TopicAlert, alert); err != nil {
			slog.Warn("failed to publish alert", "alert_id", alert.ID, "error", err)
		}
	}
}
