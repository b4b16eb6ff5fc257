package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/roadcare/internal/logging"
	"github.com/example/roadcare/internal/repository"
)

// RegisterImage records an uploaded photo and returns its opaque reference.
// The bytes are hashed for duplicate detection and then discarded; nothing
// downstream ever interprets pixel data.
func (uc *VerificationUseCase) RegisterImage(ctx context.Context, ticketID, uploadedBy string, kind repository.ImageKind, contentType string, data []byte) (*repository.Image, error) {
	hash := sha1.Sum(data)
	img := &repository.Image{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		Kind:        kind,
		SHA1Hash:    hex.EncodeToString(hash[:]),
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		UploadedBy:  uploadedBy,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := uc.tickets.FindByID(ctx, ticketID); err != nil {
		return nil, logging.NewOperationError("usecase.register_image.find_ticket", img.ID, err)
	}

	if err := uc.repo.SaveImage(ctx, img); err != nil {
		return nil, err
	}

	logging.WithTicket(logging.WithOperation(uc.logger, "usecase.register_image", img.ID), ticketID).
		Info("image registered",
			zap.String("kind", string(kind)),
			zap.Int64("size_bytes", img.SizeBytes),
			zap.String("sha1_hash", img.SHA1Hash))

	return img, nil
}
