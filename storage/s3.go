package storage

import (
	"bytes"
	"context"
	"errors"
	"faltas_go/config"
	"faltas_go/utils"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

var ErrInvalidFileURL = errors.New("invalid file URL")

// Document is one supporting document (atestado) stored in the bucket.
type Document struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentStore keeps supporting documents under {teacherName}/{date}/{timestamp}_{filename}.
type DocumentStore struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	now      func() time.Time
}

// NewDocumentStore creates the S3 backed document store from the loaded configuration
func NewDocumentStore() (*DocumentStore, error) {
	bucket := config.AppConfig.DocumentsBucketName
	if bucket == "" {
		bucket = config.AppConfig.S3BucketName
	}
	if bucket == "" {
		return nil, fmt.Errorf("no documents bucket configured")
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AppConfig.AWSRegion),
		Credentials: credentials.NewStaticCredentials(
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDocumentStoreWithClient(s3.New(sess), bucket, config.AppConfig.AWSRegion), nil
}

// NewDocumentStoreWithClient wires an existing S3 client.
func NewDocumentStoreWithClient(client s3iface.S3API, bucket, region string) *DocumentStore {
	return &DocumentStore{s3Client: client, bucket: bucket, region: region, now: time.Now}
}

// FolderFor is the prefix holding every document of a teacher on a date.
func FolderFor(teacherName, date string) string {
	name := strings.TrimSpace(strings.ReplaceAll(teacherName, "/", "-"))
	return name + "/" + date + "/"
}

// DocumentKey builds the object key for an upload made at the given instant.
func DocumentKey(teacherName, date string, at time.Time, filename string) string {
	return fmt.Sprintf("%s%d_%s", FolderFor(teacherName, date), at.UnixMilli(), utils.SanitizeFilename(filename))
}

// Upload stores a multipart file for the teacher and date.
func (s *DocumentStore) Upload(ctx context.Context, teacherName, date string, file *multipart.FileHeader) (Document, error) {
	src, err := file.Open()
	if err != nil {
		return Document{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	fileBytes, err := io.ReadAll(src)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read file: %w", err)
	}
	return s.Put(ctx, teacherName, date, file.Filename, fileBytes)
}

// Put stores raw bytes for the teacher and date.
func (s *DocumentStore) Put(ctx context.Context, teacherName, date, filename string, body []byte) (Document, error) {
	key := DocumentKey(teacherName, date, s.now(), filename)

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(getContentType(getFileExtension(filename))),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		return Document{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return Document{
		Key:          key,
		URL:          s.PublicURL(key),
		Name:         filepath.Base(key),
		Size:         int64(len(body)),
		LastModified: s.now(),
	}, nil
}

// List returns every document under prefix.
func (s *DocumentStore) List(ctx context.Context, prefix string) ([]Document, error) {
	var docs []Document
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			docs = append(docs, Document{
				Key:          key,
				URL:          s.PublicURL(key),
				Name:         filepath.Base(key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return docs, nil
}

// ListFor returns the documents of a teacher on a date.
func (s *DocumentStore) ListFor(ctx context.Context, teacherName, date string) ([]Document, error) {
	return s.List(ctx, FolderFor(teacherName, date))
}

// Delete deletes a document from S3 by its public URL
func (s *DocumentStore) Delete(ctx context.Context, fileURL string) error {
	key := extractKeyFromURL(fileURL)
	if key == "" {
		return ErrInvalidFileURL
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// Ping checks that the bucket exists and is reachable with the configured credentials.
func (s *DocumentStore) Ping(ctx context.Context) error {
	_, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Bucket is the bucket documents are stored in.
func (s *DocumentStore) Bucket() string {
	return s.bucket
}

// PublicURL is the virtual-hosted URL of a key.
func (s *DocumentStore) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// getFileExtension extracts file extension from filename
func getFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:]) // Remove the dot
	}
	return ""
}

// getContentType returns the MIME type for the file extension
func getContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

// extractKeyFromURL extracts the S3 key from a full URL
func extractKeyFromURL(url string) string {
	// Example URL: https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.Split(url, ".amazonaws.com/")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
