package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/roadcare/internal/analyzer"
	"github.com/example/roadcare/internal/logging"
	"github.com/example/roadcare/internal/repository"
)

// ErrTicketNotInProgress is returned when a verification is requested for a
// ticket that is not currently under repair.
var ErrTicketNotInProgress = errors.New("ticket is not under repair")

// ErrImageNotFound is returned when a submitted image reference does not
// match an uploaded photo.
var ErrImageNotFound = errors.New("image not found")

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, ticketID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	SaveImage(ctx context.Context, img *repository.Image) error
	FindImageByID(ctx context.Context, id string) (*repository.Image, error)
}

// TicketRepository defines the ticket operations needed by the use cases.
type TicketRepository interface {
	Create(ctx context.Context, ticket *repository.Ticket) error
	FindByID(ctx context.Context, id string) (*repository.Ticket, error)
	List(ctx context.Context, status repository.TicketStatus) ([]*repository.Ticket, error)
	Claim(ctx context.Context, id, workerID string) error
	Complete(ctx context.Context, id string) error
}

// VerificationUseCase drives the repair verification flow: precondition
// checks, the simulated analysis delay, scoring, persistence, caching, and
// ticket closure on approval.
type VerificationUseCase struct {
	repo           VerificationRepository
	tickets        TicketRepository
	cache          Cache
	analyzer       analyzer.Analyzer
	logger         *zap.Logger
	analysisDelay  time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// VerifyInput identifies the ticket and images for one verification attempt.
type VerifyInput struct {
	TicketID        string
	WorkerID        string
	RepairImageID   string
	OriginalImageID string
}

// VerifyOutcome is the result of a completed verification attempt.
type VerifyOutcome struct {
	RequestID    string
	TicketClosed bool
	Result       *analyzer.Result
}

type cachedVerification struct {
	RequestID       string    `json:"request_id"`
	TicketID        string    `json:"ticket_id"`
	WorkerID        string    `json:"worker_id"`
	Decision        string    `json:"decision"`
	Confidence      string    `json:"confidence"`
	SimilarityScore float64   `json:"similarity_score"`
	Message         string    `json:"message"`
	Hash            string    `json:"sha1_hash"`
	CreatedAt       time.Time `json:"created_at"`
}

// DuplicateReport lists verification attempts on the same ticket that
// submitted an identical photo.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance. analysisDelay is
// the simulated analysis latency; pass zero to score immediately.
func NewVerificationUseCase(repo VerificationRepository, tickets TicketRepository, cache Cache, az analyzer.Analyzer, logger *zap.Logger, analysisDelay time.Duration) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		tickets:        tickets,
		cache:          cache,
		analyzer:       az,
		logger:         logger.Named("verification_usecase"),
		analysisDelay:  analysisDelay,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// VerifyRepair runs one verification attempt. Input errors (missing repair
// image, unknown ticket or image, ticket not under repair) surface before the
// analysis delay starts; after that the attempt always produces a result.
// An approved result closes the ticket; a rejected one leaves it open for a
// fresh attempt with a new photo.
func (uc *VerificationUseCase) VerifyRepair(ctx context.Context, in VerifyInput) (*VerifyOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithTicket(logging.WithOperation(uc.logger, "usecase.verify_repair", requestID), in.TicketID)

	req := analyzer.Request{
		RepairImageRef:   in.RepairImageID,
		OriginalImageRef: in.OriginalImageID,
	}
	if err := uc.analyzer.Validate(req); err != nil {
		opLogger.Warn("verification precondition failed", zap.Error(err))
		return nil, err
	}

	ticket, err := uc.tickets.FindByID(ctx, in.TicketID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_ticket", requestID, err)
	}
	if ticket.Status != repository.TicketInProgress {
		opLogger.Warn("ticket not verifiable", zap.String("status", string(ticket.Status)))
		return nil, ErrTicketNotInProgress
	}

	img, err := uc.repo.FindImageByID(ctx, in.RepairImageID)
	if err != nil {
		opLogger.Warn("repair image lookup failed", zap.Error(err))
		return nil, ErrImageNotFound
	}

	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.analyzing", func() error {
		return uc.cache.Set(ctx, cacheKey, "analyzing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set analyzing flag", zap.Error(err))
		return nil, err
	}

	// Simulated analysis latency. Abandoning the request cancels the wait
	// and discards the attempt.
	if uc.analysisDelay > 0 {
		select {
		case <-ctx.Done():
			opLogger.Info("verification abandoned during analysis", zap.Error(ctx.Err()))
			return nil, logging.NewOperationError("usecase.analysis_wait", requestID, ctx.Err())
		case <-time.After(uc.analysisDelay):
		}
	}

	result, err := uc.analyzer.Analyze(ctx, req)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.analyze", requestID, err)
		opLogger.Error("analysis failed", zap.Error(wrapped))
		return nil, wrapped
	}

	log := &repository.VerificationLog{
		RequestID:       requestID,
		TicketID:        in.TicketID,
		WorkerID:        in.WorkerID,
		RepairImageID:   in.RepairImageID,
		OriginalImageID: in.OriginalImageID,
		Decision:        string(result.Decision),
		Confidence:      string(result.Confidence),
		SimilarityScore: result.SimilarityScore,
		Message:         result.Message,
		SHA1Hash:        img.SHA1Hash,
		CreatedAt:       time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return nil, wrapped
	}

	closed := false
	if result.Decision == analyzer.DecisionApproved {
		if err := uc.tickets.Complete(ctx, in.TicketID); err != nil {
			wrapped := logging.NewOperationError("usecase.close_ticket", requestID, err)
			opLogger.Error("failed to close ticket after approval", zap.Error(wrapped))
			return nil, wrapped
		}
		closed = true
	}

	cached := cachedVerification{
		RequestID:       requestID,
		TicketID:        log.TicketID,
		WorkerID:        log.WorkerID,
		Decision:        log.Decision,
		Confidence:      log.Confidence,
		SimilarityScore: log.SimilarityScore,
		Message:         log.Message,
		Hash:            log.SHA1Hash,
		CreatedAt:       log.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("verification completed",
		zap.String("decision", log.Decision),
		zap.String("confidence", log.Confidence),
		zap.Float64("similarity_score", log.SimilarityScore),
		zap.Bool("ticket_closed", closed))

	return &VerifyOutcome{RequestID: requestID, TicketClosed: closed, Result: result}, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.VerificationLog{
				RequestID:       payload.RequestID,
				TicketID:        payload.TicketID,
				WorkerID:        payload.WorkerID,
				Decision:        payload.Decision,
				Confidence:      payload.Confidence,
				SimilarityScore: payload.SimilarityScore,
				Message:         payload.Message,
				SHA1Hash:        payload.Hash,
				CreatedAt:       payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport builds a duplicate-photo report for a verification attempt.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.TicketID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{Request: log, Duplicates: duplicates}, nil
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
