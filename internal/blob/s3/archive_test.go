package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newFake() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func TestArchive_RecordWritesJSONByDate(t *testing.T) {
	api := newFake()
	a := newArchive(api, "bucket", "/arb/")
	opp := domain.ArbOpportunity{
		ID:         "abc",
		OrderHash:  "0x01",
		Profit:     "1000",
		Mode:       "live",
		DetectedAt: time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("x", -3600)),
	}

	if err := a.Record(context.Background(), opp); err != nil {
		t.Fatal(err)
	}

	key := "arb/2024/05/02/abc.json"
	if a.Key(opp) != key {
		t.Fatalf("key = %s", a.Key(opp))
	}
	body, ok := api.objects["bucket/"+key]
	if !ok {
		t.Fatalf("object not written, have %v", api.objects)
	}
	var got domain.ArbOpportunity
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "abc" || got.Profit != "1000" {
		t.Fatalf("stored %+v", got)
	}
	if api.types[key] != "application/json" {
		t.Fatalf("content type %q", api.types[key])
	}
}

func TestArchive_DefaultPrefixAndErrors(t *testing.T) {
	api := newFake()
	api.err = errors.New("denied")
	a := newArchive(api, "b", "")
	opp := domain.ArbOpportunity{ID: "x", DetectedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if a.Key(opp) != "opportunities/2024/01/02/x.json" {
		t.Fatalf("key = %s", a.Key(opp))
	}
	if err := a.Record(context.Background(), opp); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio.local", false, "http://minio.local"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
