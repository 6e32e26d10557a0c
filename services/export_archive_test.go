package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeArchiveS3 struct {
	objects map[string][]byte
	times   map[string]time.Time
}

func newFakeArchiveS3() *fakeArchiveS3 {
	return &fakeArchiveS3{objects: map[string][]byte{}, times: map[string]time.Time{}}
}

func (f *fakeArchiveS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.times[key] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeArchiveS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeArchiveS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, body := range f.objects {
		if !strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(body))),
			LastModified: aws.Time(f.times[key]),
		})
	}
	return out, nil
}

func TestArchiveKey(t *testing.T) {
	got := ArchiveKey(time.Date(2024, 3, 5, 3, 0, 0, 0, time.UTC))
	if want := "exports/2024/03/faltas_professores_TODOS_20240305T030000.xlsx"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExportArchiveRoundTrip(t *testing.T) {
	src := newFakeSource()
	src.seed(seeded("a1", "2024-03-01", "t1"))
	client := newFakeArchiveS3()
	svc := NewExportArchiveServiceWithClient(NewExportService(src, nil, 10, 0), client, "faltas-exports")
	ctx := context.Background()

	times := []time.Time{
		time.Date(2024, 3, 5, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 5, 3, 0, 0, 0, time.UTC),
	}
	for _, at := range times {
		at := at
		svc.now = func() time.Time { return at }
		archive, err := svc.ArchiveNow(ctx)
		if err != nil {
			t.Fatalf("archive: %v", err)
		}
		if archive.Size == 0 || archive.Key != ArchiveKey(at) {
			t.Fatalf("unexpected archive %+v", archive)
		}
	}

	archives, err := svc.ListArchives(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(archives) != 2 || archives[0].Key != ArchiveKey(times[1]) {
		t.Fatalf("expected newest archive first, got %+v", archives)
	}

	body, name, err := svc.Download(ctx, archives[0].Key)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if name != "faltas_professores_TODOS_20240405T030000.xlsx" || !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("unexpected download %q (%d bytes)", name, len(data))
	}
}

func TestExportArchiveErrors(t *testing.T) {
	ctx := context.Background()
	unconfigured := NewExportArchiveServiceWithClient(NewExportService(newFakeSource(), nil, 10, 0), nil, "")
	if _, err := unconfigured.ArchiveNow(ctx); !errors.Is(err, ErrArchiveNotConfigured) {
		t.Fatalf("expected ErrArchiveNotConfigured, got %v", err)
	}
	if _, err := unconfigured.ListArchives(ctx); !errors.Is(err, ErrArchiveNotConfigured) {
		t.Fatalf("expected ErrArchiveNotConfigured, got %v", err)
	}

	svc := NewExportArchiveServiceWithClient(NewExportService(newFakeSource(), nil, 10, 0), newFakeArchiveS3(), "b")
	for _, key := range []string{"", "logs/app.log", "exports/../secret"} {
		if _, _, err := svc.Download(ctx, key); !errors.Is(err, ErrInvalidArchiveKey) {
			t.Fatalf("expected ErrInvalidArchiveKey for %q, got %v", key, err)
		}
	}
}
