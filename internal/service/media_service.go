package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMediaTooLarge = apperr.Validation("file too large")

// MediaService stores uploads on disk and records them as orphaned media,
// ready to be attached to a message.
type MediaService struct {
	repos    *repository.Repositories
	dir      string
	maxBytes int64
}

func NewMediaService(repos *repository.Repositories, dir string, maxBytes int64) *MediaService {
	return &MediaService{repos: repos, dir: dir, maxBytes: maxBytes}
}

func (s *MediaService) Upload(ctx context.Context, id models.Identity, filename string, src io.Reader) (*models.MessageMedia, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("service.Upload mkdir: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(s.dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("service.Upload create: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > s.maxBytes {
		err = ErrMediaTooLarge
	}
	if err == nil && written == 0 {
		err = apperr.Validation("file is empty")
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	media := &models.MessageMedia{UploaderID: id.UserID, File: name}
	if err := s.repos.Messages.CreateMedia(ctx, media); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	logger.Log.Info("Media uploaded",
		zap.Uint("media_id", media.ID),
		zap.Uint("uploader_id", id.UserID),
		zap.Int64("bytes", written),
	)
	return media, nil
}
