// Package archive uploads a completed run's whole output directory to an
// S3-compatible bucket once DONE.txt exists: stage into a tar.gz, checksum
// it, then upload. It only ever uploads, never rotates or deletes —
// retention policy for archived runs is an operator decision made outside
// this tool.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config describes the destination bucket. Endpoint is set for
// S3-compatible providers (R2, MinIO); leave empty for AWS S3 itself.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Archiver uploads a run's completed output directory as a single tar.gz.
type Archiver struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// New builds an Archiver from cfg. Region defaults to "auto", matching R2's
// convention of ignoring region while still requiring the SDK see a value.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Archiver, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Archiver{client: client, bucket: cfg.Bucket, log: log.With().Str("component", "archive").Logger()}, nil
}

// ArchiveRun tars and gzips runDir into a staging file, uploads it under
// key runName+".tar.gz", and removes the staging file regardless of outcome.
func (a *Archiver) ArchiveRun(ctx context.Context, runName, runDir string) error {
	stagingPath := filepath.Join(os.TempDir(), runName+"-"+time.Now().UTC().Format("20060102-150405")+".tar.gz")
	defer os.Remove(stagingPath)

	checksum, size, err := a.stage(runDir, stagingPath)
	if err != nil {
		return fmt.Errorf("stage archive: %w", err)
	}

	f, err := os.Open(stagingPath)
	if err != nil {
		return fmt.Errorf("open staged archive: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(a.client)
	key := runName + ".tar.gz"
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
		Metadata: map[string]string{
			"sha256": checksum,
		},
	}); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	a.log.Info().Str("run", runName).Str("key", key).Int64("size_bytes", size).Msg("run archived")
	return nil
}

func (a *Archiver) stage(runDir, archivePath string) (checksum string, size int64, err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(runDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = relPath
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return "", 0, err
	}
	if err := tw.Close(); err != nil {
		return "", 0, err
	}
	if err := gz.Close(); err != nil {
		return "", 0, err
	}
	if err := out.Sync(); err != nil {
		return "", 0, err
	}

	return checksumFile(archivePath)
}

func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
