package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

// fakeMultiDelete answers S3 multi-object delete calls, refusing keys that
// contain "locked".
type fakeMultiDelete struct {
	mu       sync.Mutex
	requests [][]string
}

func (f *fakeMultiDelete) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !r.URL.Query().Has("delete") {
		http.Error(w, "unexpected request "+r.Method+" "+r.URL.String(), http.StatusBadRequest)
		return
	}
	var req deleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var keys []string
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	for _, obj := range req.Objects {
		keys = append(keys, obj.Key)
		if strings.Contains(obj.Key, "locked") {
			fmt.Fprintf(&body, "<Error><Key>%s</Key><Code>AccessDenied</Code><Message>Access Denied</Message></Error>", obj.Key)
			continue
		}
		fmt.Fprintf(&body, "<Deleted><Key>%s</Key></Deleted>", obj.Key)
	}
	body.WriteString("</DeleteResult>")

	f.mu.Lock()
	f.requests = append(f.requests, keys)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(body.String()))
}

func newTestMinio(t *testing.T, h http.Handler) *MinioClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return NewMinioClient(client, 0)
}

func TestMinioClient_DeleteUsesBulkRequests(t *testing.T) {
	fake := &fakeMultiDelete{}
	client := newTestMinio(t, fake)

	keys := []ObjectKey{"out/a.txt", "out/b.txt", "out/sub/c.txt"}
	require.NoError(t, client.Delete(context.Background(), "bucket", keys))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 1)
	assert.Equal(t, []string{"out/a.txt", "out/b.txt", "out/sub/c.txt"}, fake.requests[0])
}

func TestMinioClient_DeleteReportsRefusedKeys(t *testing.T) {
	client := newTestMinio(t, &fakeMultiDelete{})

	err := client.Delete(context.Background(), "bucket", []ObjectKey{"out/a.txt", "out/locked.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out/locked.txt")
	assert.NotContains(t, err.Error(), "out/a.txt")
}
