package s3

import (
	"testing"

	appconfig "github.com/keepsake-app/keepsake/internal/config"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(&appconfig.S3StorageConfig{Region: "us-east-1"})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestNew_RequiresRegion(t *testing.T) {
	_, err := New(&appconfig.S3StorageConfig{Bucket: "keepsake-audio"})
	if err == nil {
		t.Fatal("expected error for missing region")
	}
}

func TestNew_StaticAuthRequiresBothKeys(t *testing.T) {
	_, err := New(&appconfig.S3StorageConfig{
		Bucket:      "keepsake-audio",
		Region:      "us-east-1",
		AuthMethod:  "static",
		AccessKeyID: "AKIAEXAMPLE",
	})
	if err == nil {
		t.Fatal("expected error for static auth without secret key")
	}
}

func TestNew_RejectsUnknownAuthMethod(t *testing.T) {
	_, err := New(&appconfig.S3StorageConfig{
		Bucket:     "keepsake-audio",
		Region:     "us-east-1",
		AuthMethod: "kerberos",
	})
	if err == nil {
		t.Fatal("expected error for unsupported auth method")
	}
}

func TestNew_StaticAuth(t *testing.T) {
	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "keepsake-audio",
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.bucket != "keepsake-audio" {
		t.Errorf("expected bucket keepsake-audio, got %s", s.bucket)
	}
}
