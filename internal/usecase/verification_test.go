package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/roadcare/internal/analyzer"
	"github.com/example/roadcare/internal/logging"
	"github.com/example/roadcare/internal/repository"
)

type stubRepository struct {
	savedLogs  []*repository.VerificationLog
	saveErr    error
	findLog    *repository.VerificationLog
	findErr    error
	findCalls  int
	images     map[string]*repository.Image
	duplicates []*repository.VerificationLog
	agg        *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.VerificationLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, ticketID, hash, excludeRequestID string) ([]*repository.VerificationLog, error) {
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

func (s *stubRepository) SaveImage(ctx context.Context, img *repository.Image) error {
	if s.images == nil {
		s.images = make(map[string]*repository.Image)
	}
	s.images[img.ID] = img
	return nil
}

func (s *stubRepository) FindImageByID(ctx context.Context, id string) (*repository.Image, error) {
	if img, ok := s.images[id]; ok {
		return img, nil
	}
	return nil, errors.New("not found")
}

type stubTickets struct {
	ticket        *repository.Ticket
	findErr       error
	findCalls     int
	completeCalls int
	completeErr   error
}

func (s *stubTickets) Create(ctx context.Context, ticket *repository.Ticket) error { return nil }

func (s *stubTickets) FindByID(ctx context.Context, id string) (*repository.Ticket, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.ticket, nil
}

func (s *stubTickets) List(ctx context.Context, status repository.TicketStatus) ([]*repository.Ticket, error) {
	return nil, nil
}

func (s *stubTickets) Claim(ctx context.Context, id, workerID string) error { return nil }

func (s *stubTickets) Complete(ctx context.Context, id string) error {
	s.completeCalls++
	return s.completeErr
}

type stubCache struct {
	setErrs []error
	getErrs []error
	getVals []string
	setKeys []string
	getKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getVals) > 0 {
		value = s.getVals[0]
		s.getVals = s.getVals[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubAnalyzer struct {
	result *analyzer.Result
	calls  int
}

func (s *stubAnalyzer) Validate(req analyzer.Request) error {
	if req.RepairImageRef == "" {
		return analyzer.ErrMissingRepairImage
	}
	return nil
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	s.calls++
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	return s.result, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func approvedResult() *analyzer.Result {
	return &analyzer.Result{
		Decision:        analyzer.DecisionApproved,
		Confidence:      analyzer.ConfidenceHigh,
		SimilarityScore: 0.42,
		Message:         "ok",
	}
}

func rejectedResult() *analyzer.Result {
	return &analyzer.Result{
		Decision:        analyzer.DecisionRejected,
		Confidence:      analyzer.ConfidenceMedium,
		SimilarityScore: 0.80,
		Message:         "not enough change",
	}
}

func inProgressTicket() *repository.Ticket {
	return &repository.Ticket{ID: "ticket-1", Status: repository.TicketInProgress}
}

func newTestUseCase(repo *stubRepository, tickets *stubTickets, cache *stubCache, az analyzer.Analyzer, delay time.Duration) *VerificationUseCase {
	uc := NewVerificationUseCase(repo, tickets, cache, az, zap.NewNop(), delay)
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func verifyInput() VerifyInput {
	return VerifyInput{TicketID: "ticket-1", WorkerID: "worker-1", RepairImageID: "img-repair"}
}

func repoWithImage() *stubRepository {
	return &stubRepository{images: map[string]*repository.Image{
		"img-repair": {ID: "img-repair", TicketID: "ticket-1", Kind: repository.ImageRepair, SHA1Hash: "abc123"},
	}}
}

func TestVerifyRepairApprovedClosesTicket(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	uc := newTestUseCase(repo, tickets, &stubCache{}, &stubAnalyzer{result: approvedResult()}, 0)

	outcome, err := uc.VerifyRepair(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !outcome.TicketClosed {
		t.Fatal("expected ticket to be closed on approval")
	}
	if tickets.completeCalls != 1 {
		t.Fatalf("expected 1 complete call, got %d", tickets.completeCalls)
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected 1 saved log, got %d", len(repo.savedLogs))
	}
	log := repo.savedLogs[0]
	if log.Decision != string(analyzer.DecisionApproved) || log.SHA1Hash != "abc123" {
		t.Fatalf("unexpected log: %+v", log)
	}
	if log.RequestID != outcome.RequestID {
		t.Fatalf("log request id %s does not match outcome %s", log.RequestID, outcome.RequestID)
	}
}

func TestVerifyRepairRejectedLeavesTicketOpen(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	uc := newTestUseCase(repo, tickets, &stubCache{}, &stubAnalyzer{result: rejectedResult()}, 0)

	outcome, err := uc.VerifyRepair(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.TicketClosed {
		t.Fatal("expected ticket to stay open on rejection")
	}
	if tickets.completeCalls != 0 {
		t.Fatalf("expected no complete calls, got %d", tickets.completeCalls)
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected rejected attempt to be logged, got %d entries", len(repo.savedLogs))
	}
}

func TestVerifyRepairMissingImageFailsBeforeDelay(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	cache := &stubCache{}
	az := &stubAnalyzer{result: approvedResult()}
	// An hour-long delay: if the precondition check ran after the delay the
	// test would time out.
	uc := newTestUseCase(repo, tickets, cache, az, time.Hour)

	in := verifyInput()
	in.RepairImageID = ""
	_, err := uc.VerifyRepair(context.Background(), in)
	if !errors.Is(err, analyzer.ErrMissingRepairImage) {
		t.Fatalf("expected ErrMissingRepairImage, got %v", err)
	}
	if az.calls != 0 {
		t.Fatalf("expected analyzer not to run, got %d calls", az.calls)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("expected no cache writes, got %v", cache.setKeys)
	}
	if tickets.findCalls != 0 {
		t.Fatalf("expected no ticket lookup, got %d", tickets.findCalls)
	}
}

func TestVerifyRepairAbandonedDuringDelay(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	az := &stubAnalyzer{result: approvedResult()}
	uc := newTestUseCase(repo, tickets, &stubCache{}, az, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.VerifyRepair(ctx, verifyInput())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if az.calls != 0 {
		t.Fatalf("expected analyzer not to run, got %d calls", az.calls)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatalf("expected no log for abandoned attempt, got %d", len(repo.savedLogs))
	}
}

func TestVerifyRepairTicketNotInProgress(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: &repository.Ticket{ID: "ticket-1", Status: repository.TicketPending}}
	uc := newTestUseCase(repo, tickets, &stubCache{}, &stubAnalyzer{result: approvedResult()}, 0)

	_, err := uc.VerifyRepair(context.Background(), verifyInput())
	if !errors.Is(err, ErrTicketNotInProgress) {
		t.Fatalf("expected ErrTicketNotInProgress, got %v", err)
	}
}

func TestVerifyRepairUnknownImage(t *testing.T) {
	repo := &stubRepository{}
	tickets := &stubTickets{ticket: inProgressTicket()}
	uc := newTestUseCase(repo, tickets, &stubCache{}, &stubAnalyzer{result: approvedResult()}, 0)

	_, err := uc.VerifyRepair(context.Background(), verifyInput())
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestVerifyRepairRetriesRedisSet(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	uc := newTestUseCase(repo, tickets, cache, &stubAnalyzer{result: approvedResult()}, 0)

	_, err := uc.VerifyRepair(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 3 {
		t.Fatalf("expected at least 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestVerifyRepairReturnsOperationErrorOnCacheFailure(t *testing.T) {
	repo := repoWithImage()
	tickets := &stubTickets{ticket: inProgressTicket()}
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	uc := newTestUseCase(repo, tickets, cache, &stubAnalyzer{result: approvedResult()}, 0)

	_, err := uc.VerifyRepair(context.Background(), verifyInput())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.analyzing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.VerificationLog{RequestID: "req", TicketID: "ticket-1", Decision: "approved"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, &stubTickets{}, cache, &stubAnalyzer{}, 0)

	log, err := uc.GetResult(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultUsesCachedPayload(t *testing.T) {
	cached := `{"request_id":"req","ticket_id":"ticket-1","decision":"rejected","confidence":"medium","similarity_score":0.8}`
	cache := &stubCache{getVals: []string{cached}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubTickets{}, cache, &stubAnalyzer{}, 0)

	log, err := uc.GetResult(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log.Decision != "rejected" || log.SimilarityScore != 0.8 {
		t.Fatalf("unexpected cached log: %+v", log)
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected no repository query, got %d", repo.findCalls)
	}
}

func TestGetMetricsSummaryComputesApprovalRate(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:    8,
		ApprovedCount: 6,
		AverageScore:  0.58,
	}}
	uc := newTestUseCase(repo, &stubTickets{}, &stubCache{}, &stubAnalyzer{}, 0)

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.ApprovalRate != 0.75 {
		t.Fatalf("expected approval rate 0.75, got %v", summary.ApprovalRate)
	}
	if summary.TotalVerifications != 8 || summary.ApprovedVerifications != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRegisterImageHashesUpload(t *testing.T) {
	repo := &stubRepository{}
	tickets := &stubTickets{ticket: inProgressTicket()}
	uc := newTestUseCase(repo, tickets, &stubCache{}, &stubAnalyzer{}, 0)

	img, err := uc.RegisterImage(context.Background(), "ticket-1", "worker-1", repository.ImageRepair, "image/jpeg", []byte("photo-bytes"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if img.ID == "" {
		t.Fatal("expected image to receive an ID")
	}
	if len(img.SHA1Hash) != 40 {
		t.Fatalf("expected 40-char sha1 hash, got %q", img.SHA1Hash)
	}
	if img.SizeBytes != int64(len("photo-bytes")) {
		t.Fatalf("unexpected size: %d", img.SizeBytes)
	}
	if _, ok := repo.images[img.ID]; !ok {
		t.Fatal("expected image to be persisted")
	}
}
