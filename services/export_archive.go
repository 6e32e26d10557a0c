package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"faltas_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

const archivePrefix = "exports/"

var (
	ErrArchiveNotConfigured = errors.New("export archive storage not configured")
	ErrInvalidArchiveKey    = errors.New("invalid archive key")
)

// ArchiveObjectAPI is the subset of the S3 client the archive uses.
type ArchiveObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ExportArchive describes one archived workbook.
type ExportArchive struct {
	Key       string    `json:"key"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportArchiveService renders the whole-table workbook on a schedule and keeps
// it in S3 under exports/YYYY/MM/.
type ExportArchiveService struct {
	exporter *ExportService
	client   ArchiveObjectAPI
	bucket   string
	now      func() time.Time
}

// NewExportArchiveService creates a new service instance
func NewExportArchiveService(exporter *ExportService) *ExportArchiveService {
	svc := &ExportArchiveService{exporter: exporter, bucket: config.AppConfig.S3BucketName, now: time.Now}
	if config.AppConfig.AWSRegion == "" || svc.bucket == "" {
		logrus.Warn("AWS region or bucket missing; export archive disabled")
		return svc
	}

	cfg, err := awscfg.LoadDefaultConfig(context.Background(), awscfg.WithRegion(config.AppConfig.AWSRegion))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load AWS config; export archive disabled")
		return svc
	}
	svc.client = s3.NewFromConfig(cfg)
	return svc
}

// NewExportArchiveServiceWithClient wires an existing S3 client.
func NewExportArchiveServiceWithClient(exporter *ExportService, client ArchiveObjectAPI, bucket string) *ExportArchiveService {
	return &ExportArchiveService{exporter: exporter, client: client, bucket: bucket, now: time.Now}
}

// ArchiveKey is the object key of a workbook archived at t.
func ArchiveKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/faltas_professores_TODOS_%s.xlsx", archivePrefix, t.Year(), t.Month(), t.Format("20060102T150405"))
}

// ArchiveNow exports every absence and uploads the workbook.
func (s *ExportArchiveService) ArchiveNow(ctx context.Context) (ExportArchive, error) {
	if s.client == nil {
		return ExportArchive{}, ErrArchiveNotConfigured
	}

	buf := new(bytes.Buffer)
	if _, err := s.exporter.Export(ctx, FormatXLSX, ScopeAll, nil, buf); err != nil {
		return ExportArchive{}, fmt.Errorf("render archive: %w", err)
	}

	now := s.now()
	key := ArchiveKey(now)
	size := int64(buf.Len())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
	})
	if err != nil {
		return ExportArchive{}, fmt.Errorf("upload archive %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{"key": key, "bytes": size}).Info("Archived absence export")
	return ExportArchive{Key: key, FileName: path.Base(key), Size: size, CreatedAt: now}, nil
}

// ListArchives returns archived workbooks, newest first.
func (s *ExportArchiveService) ListArchives(ctx context.Context) ([]ExportArchive, error) {
	if s.client == nil {
		return nil, ErrArchiveNotConfigured
	}

	var archives []ExportArchive
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(archivePrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archives: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			archives = append(archives, ExportArchive{
				Key:       key,
				FileName:  path.Base(key),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].Key > archives[j].Key })
	return archives, nil
}

// Download opens an archived workbook.
func (s *ExportArchiveService) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if s.client == nil {
		return nil, "", ErrArchiveNotConfigured
	}
	if !strings.HasPrefix(key, archivePrefix) || strings.Contains(key, "..") {
		return nil, "", ErrInvalidArchiveKey
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive from S3: %w", err)
	}
	return result.Body, path.Base(key), nil
}
