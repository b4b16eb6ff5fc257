package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/roadcare/internal/logging"
	"github.com/example/roadcare/internal/repository"
)

// TicketUseCase handles the road-issue report lifecycle around verification:
// citizens file reports, workers claim them, approved verifications close them.
type TicketUseCase struct {
	tickets TicketRepository
	logger  *zap.Logger
}

// NewTicketUseCase constructs a new use case instance.
func NewTicketUseCase(tickets TicketRepository, logger *zap.Logger) *TicketUseCase {
	return &TicketUseCase{tickets: tickets, logger: logger.Named("ticket_usecase")}
}

// ReportInput describes a new road-issue report.
type ReportInput struct {
	Title       string
	Description string
	Category    string
	Latitude    float64
	Longitude   float64
	ReportedBy  string
}

// Report files a new ticket in pending status.
func (uc *TicketUseCase) Report(ctx context.Context, in ReportInput) (*repository.Ticket, error) {
	now := time.Now().UTC()
	ticket := &repository.Ticket{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		ReportedBy:  in.ReportedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	logging.WithTicket(logging.WithOperation(uc.logger, "usecase.report_ticket", ""), ticket.ID).
		Info("ticket reported", zap.String("category", ticket.Category))
	return ticket, nil
}

// Get retrieves a single ticket.
func (uc *TicketUseCase) Get(ctx context.Context, id string) (*repository.Ticket, error) {
	return uc.tickets.FindByID(ctx, id)
}

// List returns tickets, optionally filtered by status.
func (uc *TicketUseCase) List(ctx context.Context, status repository.TicketStatus) ([]*repository.Ticket, error) {
	return uc.tickets.List(ctx, status)
}

// Claim assigns a pending ticket to a worker and moves it to in_progress.
func (uc *TicketUseCase) Claim(ctx context.Context, id, workerID string) error {
	if err := uc.tickets.Claim(ctx, id, workerID); err != nil {
		return err
	}
	logging.WithTicket(logging.WithOperation(uc.logger, "usecase.claim_ticket", ""), id).
		Info("ticket claimed", zap.String("worker_id", workerID))
	return nil
}
