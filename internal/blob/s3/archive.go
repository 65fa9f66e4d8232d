package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const defaultPrefix = "opportunities"

// Archive writes every opportunity as a JSON object keyed by detection date,
// e.g. opportunities/2024/05/01/<id>.json.
type Archive struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewArchive creates an archive on the client's bucket.
func NewArchive(c *Client, prefix string) *Archive {
	return newArchive(c.S3(), c.Bucket(), prefix)
}

func newArchive(api manager.UploadAPIClient, bucket, prefix string) *Archive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Archive{
		uploader: manager.NewUploader(api),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// Name identifies the sink in recorder logs.
func (a *Archive) Name() string { return "s3" }

// Record implements domain.OpportunitySink.
func (a *Archive) Record(ctx context.Context, opp domain.ArbOpportunity) error {
	body, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("s3blob: marshal opportunity %s: %w", opp.ID, err)
	}
	key := a.Key(opp)
	if _, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// Key is the object key an opportunity is stored under.
func (a *Archive) Key(opp domain.ArbOpportunity) string {
	return path.Join(a.prefix, opp.DetectedAt.UTC().Format("2006/01/02"), opp.ID+".json")
}
