package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImageKind distinguishes the before photo from the repair evidence photo.
type ImageKind string

const (
	ImageOriginal ImageKind = "original"
	ImageRepair   ImageKind = "repair"
)

// Image records an uploaded photo. Only metadata and the content hash are
// kept; the analyzer treats the ID as an opaque reference and never reads
// pixel data.
type Image struct {
	ID          string    `gorm:"primaryKey;size:36"`
	TicketID    string    `gorm:"column:ticket_id;size:36;index"`
	Kind        ImageKind `gorm:"size:16"`
	SHA1Hash    string    `gorm:"column:sha1_hash;size:40;index"`
	SizeBytes   int64     `gorm:"column:size_bytes"`
	ContentType string    `gorm:"column:content_type;size:64"`
	UploadedBy  string    `gorm:"column:uploaded_by;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Image) TableName() string {
	return "ticket_images"
}

// VerificationLog represents a persisted verification attempt.
type VerificationLog struct {
	ID              uint      `gorm:"primaryKey"`
	RequestID       string    `gorm:"column:request_id;uniqueIndex;size:36"`
	TicketID        string    `gorm:"column:ticket_id;size:36;index"`
	WorkerID        string    `gorm:"column:worker_id;size:64"`
	RepairImageID   string    `gorm:"column:repair_image_id;size:36"`
	OriginalImageID string    `gorm:"column:original_image_id;size:36"`
	Decision        string    `gorm:"size:16"`
	Confidence      string    `gorm:"size:16"`
	SimilarityScore float64   `gorm:"column:similarity_score"`
	Message         string    `gorm:"type:text"`
	SHA1Hash        string    `gorm:"column:sha1_hash;size:40;index"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation holds raw aggregates over verification logs.
type MetricsAggregation struct {
	TotalCount    int64   `gorm:"column:total_count"`
	ApprovedCount int64   `gorm:"column:approved_count"`
	AverageScore  float64 `gorm:"column:average_score"`
}

// VerificationRepository provides persistence APIs for verification attempts
// and uploaded images.
type VerificationRepository struct {
	db *gorm.DB
	retrier
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{db: db, retrier: newRetrier(logger.Named("verification_repository"))}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Ticket{}, &Image{}, &VerificationLog{})
}

// SaveImage registers an uploaded photo.
func (r *VerificationRepository) SaveImage(ctx context.Context, img *Image) error {
	return r.executeWithRetry(ctx, "images.save", img.ID, func() error {
		return r.db.WithContext(ctx).Create(img).Error
	})
}

// FindImageByID retrieves an uploaded photo's metadata.
func (r *VerificationRepository) FindImageByID(ctx context.Context, id string) (*Image, error) {
	var img Image
	err := r.executeWithRetry(ctx, "images.find", id, func() error {
		return r.db.WithContext(ctx).First(&img, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// SaveLog persists a verification attempt.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "verifications.save", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves a verification attempt.
func (r *VerificationRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "verifications.find", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash returns other verification attempts on the same ticket
// that submitted a photo with an identical content hash.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, ticketID, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := r.executeWithRetry(ctx, "verifications.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("ticket_id = ? AND sha1_hash = ? AND request_id <> ?", ticketID, hash, excludeRequestID).
			Order("created_at ASC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes verification totals across all logs.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "verifications.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN decision = 'approved' THEN 1 ELSE 0 END), 0) AS approved_count, " +
				"COALESCE(AVG(similarity_score), 0) AS average_score").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
