package abs

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestNewExportClientFromURL(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		client, err := NewExportClientFromURL("abs", "backups", "prod/db", nil, url.UserPassword("myaccount", "secret"))
		if err != nil {
			t.Fatal(err)
		}
		c := client.(*ExportClient)
		if got, want := c.AccountName, "myaccount"; got != want {
			t.Fatalf("AccountName=%q, want %q", got, want)
		} else if got, want := c.AccountKey, "secret"; got != want {
			t.Fatalf("AccountKey=%q, want %q", got, want)
		} else if got, want := c.Bucket, "backups"; got != want {
			t.Fatalf("Bucket=%q, want %q", got, want)
		} else if got, want := c.Path, "prod/db"; got != want {
			t.Fatalf("Path=%q, want %q", got, want)
		} else if got, want := c.Key("app.db"), "prod/db/app.db"; got != want {
			t.Fatalf("Key()=%q, want %q", got, want)
		}
	})

	t.Run("Endpoint", func(t *testing.T) {
		client, err := NewExportClientFromURL("abs", "backups", "", url.Values{"endpoint": {"http://127.0.0.1:10000/devstoreaccount1"}}, nil)
		if err != nil {
			t.Fatal(err)
		} else if got, want := client.(*ExportClient).Endpoint, "http://127.0.0.1:10000/devstoreaccount1"; got != want {
			t.Fatalf("Endpoint=%q, want %q", got, want)
		}
	})

	t.Run("ErrNoContainer", func(t *testing.T) {
		if _, err := NewExportClientFromURL("abs", "", "db", nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestIsNotExists(t *testing.T) {
	if !isNotExists(&azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}) {
		t.Error("expected BlobNotFound to be not exists")
	}
	if !isNotExists(&azcore.ResponseError{StatusCode: http.StatusNotFound}) {
		t.Error("expected bare 404 to be not exists")
	}
	if isNotExists(&azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}) {
		t.Error("expected 403 to not be not exists")
	}
	if isNotExists(errors.New("regular error")) {
		t.Error("expected regular error to not be not exists")
	}
}
