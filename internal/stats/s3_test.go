package stats

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	objects map[string][]byte
	types   map[string]string
	fail    bool
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	f.objects[key] = body
	f.types[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ExporterUploadsRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-s3")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	putter := &fakePutter{objects: map[string][]byte{}, types: map[string]string{}}
	exporter := &S3Exporter{client: putter, config: S3ExportConfig{Bucket: "b", Prefix: "evopattern/"}}

	keys, err := exporter.UploadRun(context.Background(), baseDir, "run-s3")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(keys) != len(runArtifactFiles) {
		t.Fatalf("keys: got=%d want=%d", len(keys), len(runArtifactFiles))
	}
	if _, ok := putter.objects["evopattern/run-s3/patterns.json"]; !ok {
		t.Fatalf("missing patterns object, have %v", keys)
	}
	if got := putter.types["evopattern/run-s3/patterns.csv"]; got != "text/csv" {
		t.Fatalf("content type: got=%s want=text/csv", got)
	}
	if plot := putter.objects["evopattern/run-s3/patterns.png"]; len(plot) == 0 {
		t.Fatalf("missing patterns plot, have %v", keys)
	}
	if got := putter.types["evopattern/run-s3/patterns.png"]; got != "image/png" {
		t.Fatalf("content type: got=%s want=image/png", got)
	}

	putter.fail = true
	if _, err := exporter.UploadRun(context.Background(), baseDir, "run-s3"); err == nil {
		t.Fatal("expected upload failure")
	}
}

func TestNewS3ExporterRequiresBucket(t *testing.T) {
	if _, err := NewS3Exporter(context.Background(), S3ExportConfig{}); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestS3ExporterObjectKey(t *testing.T) {
	e := &S3Exporter{config: S3ExportConfig{}}
	if got := e.ObjectKey("r", "config.json"); got != "r/config.json" {
		t.Fatalf("key: got=%s", got)
	}
}
