package oss

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
)

func TestExportClient_Type(t *testing.T) {
	if got := NewExportClient().Type(); got != "oss" {
		t.Errorf("Type() = %q, want %q", got, "oss")
	}
}

func TestExportClient_Init_BucketValidation(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		c := NewExportClient()
		c.Region = "cn-hangzhou"

		if err := c.Init(t.Context()); err == nil {
			t.Fatal("expected error for empty bucket name")
		} else if got := err.Error(); got != "oss: bucket name is required" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ValidBucketDefaultRegion", func(t *testing.T) {
		c := NewExportClient()
		c.Bucket = "test-bucket"
		c.AccessKeyID = "test-key"
		c.AccessKeySecret = "test-secret"

		if err := c.Init(t.Context()); err != nil {
			t.Errorf("Init() should succeed with default region: %v", err)
		}
		// Second init should be a no-op
		if err := c.Init(t.Context()); err != nil {
			t.Fatalf("second Init() failed: %v", err)
		}
	})
}

func TestNewExportClientFromURL(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		urlPath    string
		query      url.Values
		wantBucket string
		wantRegion string
		wantKey    string
	}{
		{"Simple", "my-bucket", "backups", nil, "my-bucket", "", "backups/app.db"},
		{"WithRegion", "my-bucket.oss-cn-hangzhou.aliyuncs.com", "backup", nil, "my-bucket", "cn-hangzhou", "backup/app.db"},
		{"RegionQuery", "my-bucket", "", url.Values{"region": {"cn-beijing"}}, "my-bucket", "cn-beijing", "app.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewExportClientFromURL("oss", tt.host, tt.urlPath, tt.query, nil)
			if err != nil {
				t.Fatal(err)
			}
			c := client.(*ExportClient)
			if c.Bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", c.Bucket, tt.wantBucket)
			}
			if c.Region != tt.wantRegion {
				t.Errorf("region = %q, want %q", c.Region, tt.wantRegion)
			}
			if got := c.Key("app.db"); got != tt.wantKey {
				t.Errorf("key = %q, want %q", got, tt.wantKey)
			}
		})
	}

	t.Run("ErrNoBucket", func(t *testing.T) {
		if _, err := NewExportClientFromURL("oss", "", "backups", nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		wantBucket string
		wantRegion string
	}{
		{"StandardOSSURL", "my-bucket.oss-cn-hangzhou.aliyuncs.com", "my-bucket", "cn-hangzhou"},
		{"InternalOSSURL", "my-bucket.oss-cn-hangzhou-internal.aliyuncs.com", "my-bucket", "cn-hangzhou"},
		{"InternalOSSURLBeijing", "test-bucket.oss-cn-beijing-internal.aliyuncs.com", "test-bucket", "cn-beijing"},
		{"SimpleBucketName", "my-bucket", "my-bucket", ""},
		{"BucketWithHyphens", "my-test-bucket-2024.oss-cn-shenzhen.aliyuncs.com", "my-test-bucket-2024", "cn-shenzhen"},
		{"OSSURLSingapore", "sg-bucket.oss-ap-southeast-1.aliyuncs.com", "sg-bucket", "ap-southeast-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, region, _ := ParseHost(tt.host)
			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if region != tt.wantRegion {
				t.Errorf("region = %q, want %q", region, tt.wantRegion)
			}
		})
	}
}

func TestIsNotExists(t *testing.T) {
	if isNotExists(nil) {
		t.Error("isNotExists should return false for nil error")
	}
	if isNotExists(errors.New("regular error")) {
		t.Error("isNotExists should return false for regular error")
	}
	if !isNotExists(&oss.ServiceError{Code: "NoSuchKey", StatusCode: http.StatusNotFound}) {
		t.Error("isNotExists should return true for NoSuchKey")
	}
	if !isNotExists(fmt.Errorf("head: %w", &oss.ServiceError{StatusCode: http.StatusNotFound})) {
		t.Error("isNotExists should return true for wrapped 404")
	}
	if isNotExists(&oss.ServiceError{Code: "AccessDenied", StatusCode: http.StatusForbidden}) {
		t.Error("isNotExists should return false for AccessDenied")
	}
}
