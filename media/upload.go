package media

import (
	"context"
	"errors"
	"fmt"
)

// Uploader posts raw bytes to the remote media endpoint.
type Uploader interface {
	PostBinary(ctx context.Context, path string, data []byte, mimeType, filename string, out any) error
}

type uploadResponse struct {
	ID int64 `json:"id"`
}

// Upload sends asset to the media collection and returns the new media id.
func Upload(ctx context.Context, up Uploader, asset *Asset) (int64, error) {
	if asset == nil {
		return 0, errors.New("no asset to upload")
	}
	var resp uploadResponse
	if err := up.PostBinary(ctx, "media", asset.Data, asset.MimeType, asset.Filename, &resp); err != nil {
		return 0, fmt.Errorf("upload %s: %w", asset.Filename, err)
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("upload %s: response carried no id", asset.Filename)
	}
	return resp.ID, nil
}
