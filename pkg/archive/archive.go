// Package archive exports commit records to an object store for
// long-term audit retention. Export is best-effort and asynchronous:
// the decision path never waits on, or fails because of, the archive.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arbiterhq/arbiter/pkg/canonicalize"
	"github.com/arbiterhq/arbiter/pkg/store"
)

// ObjectPutter is the slice of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes commit records as canonical JSON objects under
// <prefix>/<proposal_id>/<commit_id>.json.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithPrefix overrides the default "commits" key prefix.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) { a.prefix = prefix }
}

// New builds an archiver over an existing client.
func New(client ObjectPutter, bucket string, opts ...Option) *Archiver {
	a := &Archiver{
		client: client,
		bucket: bucket,
		prefix: "commits",
		logger: slog.Default().With("component", "archive"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig builds an archiver with a client from the ambient AWS
// configuration (env, shared config, instance role).
func NewFromConfig(ctx context.Context, bucket string, opts ...Option) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, opts...), nil
}

// Archive uploads one commit record. The body is canonical JSON so the
// archived object is byte-reproducible from the record.
func (a *Archiver) Archive(ctx context.Context, rec store.CommitRecord) error {
	body, err := canonicalize.Canonical(rec)
	if err != nil {
		return fmt.Errorf("archive: canonicalize record %s: %w", rec.CommitID, err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", a.prefix, rec.ProposalID, rec.CommitID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}
