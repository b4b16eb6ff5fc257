package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TicketStatus tracks a road-issue report through its lifecycle.
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketCompleted  TicketStatus = "completed"
)

// ErrInvalidTransition is returned when a ticket is not in the status a
// transition requires.
var ErrInvalidTransition = errors.New("invalid ticket status transition")

// Ticket is a citizen-submitted road-issue report.
type Ticket struct {
	ID          string       `gorm:"primaryKey;size:36"`
	Title       string       `gorm:"size:200"`
	Description string       `gorm:"type:text"`
	Category    string       `gorm:"size:64"`
	Latitude    float64      `gorm:"column:latitude"`
	Longitude   float64      `gorm:"column:longitude"`
	Status      TicketStatus `gorm:"size:32;index"`
	ReportedBy  string       `gorm:"column:reported_by;size:64"`
	AssignedTo  string       `gorm:"column:assigned_to;size:64"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
	ClosedAt    *time.Time   `gorm:"column:closed_at"`
}

// TableName overrides the default table name.
func (Ticket) TableName() string {
	return "tickets"
}

// TicketRepository provides persistence APIs for tickets.
type TicketRepository struct {
	db *gorm.DB
	retrier
}

// NewTicketRepository creates a new repository instance.
func NewTicketRepository(db *gorm.DB, logger *zap.Logger) *TicketRepository {
	return &TicketRepository{db: db, retrier: newRetrier(logger.Named("ticket_repository"))}
}

// Create persists a new ticket in pending status.
func (r *TicketRepository) Create(ctx context.Context, ticket *Ticket) error {
	ticket.Status = TicketPending
	return r.executeWithRetry(ctx, "tickets.create", ticket.ID, func() error {
		return r.db.WithContext(ctx).Create(ticket).Error
	})
}

// FindByID retrieves a ticket.
func (r *TicketRepository) FindByID(ctx context.Context, id string) (*Ticket, error) {
	var ticket Ticket
	err := r.executeWithRetry(ctx, "tickets.find", id, func() error {
		return r.db.WithContext(ctx).First(&ticket, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// List returns tickets, optionally filtered by status, newest first.
func (r *TicketRepository) List(ctx context.Context, status TicketStatus) ([]*Ticket, error) {
	var tickets []*Ticket
	err := r.executeWithRetry(ctx, "tickets.list", "", func() error {
		q := r.db.WithContext(ctx).Order("created_at DESC")
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q.Find(&tickets).Error
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// Claim moves a pending ticket to in_progress and assigns the worker.
func (r *TicketRepository) Claim(ctx context.Context, id, workerID string) error {
	return r.transition(ctx, "tickets.claim", id, TicketPending, map[string]interface{}{
		"status":      TicketInProgress,
		"assigned_to": workerID,
	})
}

// Complete closes an in_progress ticket. Only an approved verification may
// trigger this transition.
func (r *TicketRepository) Complete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.transition(ctx, "tickets.complete", id, TicketInProgress, map[string]interface{}{
		"status":    TicketCompleted,
		"closed_at": &now,
	})
}

// transition applies updates only when the ticket is in the required status,
// so concurrent workers cannot double-claim or double-close.
func (r *TicketRepository) transition(ctx context.Context, operation, id string, from TicketStatus, updates map[string]interface{}) error {
	return r.executeWithRetry(ctx, operation, id, func() error {
		res := r.db.WithContext(ctx).
			Model(&Ticket{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
}
