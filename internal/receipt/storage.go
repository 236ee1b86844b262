package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/wichananm65/art-market-backend/internal/config"
)

// Uploader stores a rendered receipt and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, publicID string, pdf []byte) (string, error)
}

// PublicID is the storage key of the receipt for a transaction, relative to
// the uploader's folder.
func PublicID(transactionID string) string {
	return "Receipt_" + transactionID
}

type rawUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// CloudinaryUploader stores receipts as raw resources.
type CloudinaryUploader struct {
	api    rawUploader
	folder string
}

func NewCloudinaryUploader(cfg config.CloudinaryConfig) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &CloudinaryUploader{api: &cld.Upload, folder: cfg.Folder}, nil
}

func (u *CloudinaryUploader) Upload(ctx context.Context, publicID string, pdf []byte) (string, error) {
	res, err := u.api.Upload(ctx, bytes.NewReader(pdf), uploader.UploadParams{
		PublicID:     publicID,
		Folder:       u.folder,
		ResourceType: "raw",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("upload %s: %s", publicID, res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", errors.New("upload " + publicID + ": no url returned")
	}
	return res.SecureURL, nil
}

// NopUploader is used when no storage is configured. Receipts are still
// emailed, they just have no download URL.
type NopUploader struct{}

func (NopUploader) Upload(context.Context, string, []byte) (string, error) { return "", nil }
