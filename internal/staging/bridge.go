package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/runtime"
)

type Options struct {
	ScratchRoot  string
	OutputBucket string

	// ExcludeControlFiles keeps event.json and the staged script out of the
	// upload set. Off by default: every file in the workspace is uploaded.
	ExcludeControlFiles bool
	// ScriptPath only matters for the exclusion when an override places the
	// script under the request workspace; the default path lies outside it.
	ScriptPath string
}

// Bridge moves request input from S3 into the workspace and workspace files
// back to S3.
type Bridge struct {
	client s3iface.S3API
	fs     afero.Fs
	opts   Options
	logger *zap.Logger
}

func NewBridge(client s3iface.S3API, fs afero.Fs, opts Options, logger *zap.Logger) *Bridge {
	return &Bridge{
		client: client,
		fs:     fs,
		opts:   opts,
		logger: logger.Named("staging"),
	}
}

func (b *Bridge) Workspace(requestID string) Workspace {
	return NewWorkspace(b.opts.ScratchRoot, requestID)
}

// OutputBucket is the configured bucket, or else the bucket of the last input
// record. Empty means there is nowhere to upload.
func (b *Bridge) OutputBucket(req runtime.Request) string {
	if b.opts.OutputBucket != "" {
		return b.opts.OutputBucket
	}
	inputs := req.Inputs()
	if len(inputs) == 0 {
		return ""
	}
	return inputs[len(inputs)-1].Bucket
}

// DownloadInput fetches every referenced object into the single input path;
// with several records only the last one survives.
func (b *Bridge) DownloadInput(ctx context.Context, req runtime.Request, requestID string) error {
	inputs := req.Inputs()
	if len(inputs) > 1 {
		b.logger.Warn("request carries several records, only the last is kept as input",
			zap.Int("records", len(inputs)))
	}

	path := b.Workspace(requestID).InputFile()
	for _, in := range inputs {
		b.logger.Info("downloading input",
			zap.String("bucket", in.Bucket),
			zap.String("key", in.Key),
		)
		if err := b.download(ctx, in, path); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) download(ctx context.Context, in runtime.InputObject, path string) error {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(in.Bucket),
		Key:    aws.String(in.Key),
	})
	if err != nil {
		return errors.Wrapf(err, "unable to get s3://%s/%s", in.Bucket, in.Key)
	}
	defer out.Body.Close()

	if err := b.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	f, err := b.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", path)
	}
	n, err := io.Copy(f, out.Body)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "unable to write s3://%s/%s to %s", in.Bucket, in.Key, path)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}

	b.logger.Info("input downloaded", zap.String("path", path), zap.Int64("bytes", n))
	return nil
}

// UploadOutput uploads every file under the request workspace, keyed by its
// path relative to the workspace, and makes each object public-read. The
// first failure stops the upload; keys uploaded before it are returned.
func (b *Bridge) UploadOutput(ctx context.Context, requestID, bucket string) ([]string, error) {
	ws := b.Workspace(requestID)
	files, err := b.collect(ws)
	if err != nil {
		return nil, err
	}

	var uploaded []string
	for _, path := range files {
		rel, err := filepath.Rel(ws.Dir(), path)
		if err != nil {
			return uploaded, errors.WithStack(err)
		}
		key := filepath.ToSlash(rel)

		if err := b.upload(ctx, path, bucket, key); err != nil {
			return uploaded, err
		}
		uploaded = append(uploaded, key)
	}
	return uploaded, nil
}

func (b *Bridge) collect(ws Workspace) ([]string, error) {
	skip := map[string]bool{}
	if b.opts.ExcludeControlFiles {
		skip[ws.EventFile()] = true
		if b.opts.ScriptPath != "" {
			skip[filepath.Clean(b.opts.ScriptPath)] = true
		}
	}

	var files []string
	err := afero.Walk(b.fs, ws.Dir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || skip[path] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %s", ws.Dir())
	}
	return files, nil
}

func (b *Bridge) upload(ctx context.Context, path, bucket, key string) error {
	f, err := b.fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	b.logger.Info("uploading output", zap.String("bucket", bucket), zap.String("key", key))
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to put s3://%s/%s", bucket, key)
	}

	_, err = b.client.PutObjectAclWithContext(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return errors.Wrapf(err, "unable to set public-read on s3://%s/%s", bucket, key)
	}
	return nil
}
