package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportClientDoSendsHeadersAndBody(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewExportClient()
	req := ExportRequest{
		Remote: Remote{URL: srv.URL, WriteAPIKey: "secret"},
		Index:  "movies",
		NDJSON: []byte(`{"id":1}` + "\n"),
		Origin: Origin{Remote: "node-a", TaskUID: 3, NetworkVersion: 1},
		Import: ImportMetadata{Remote: "node-a", Index: "movies", Docs: 1, IndexCount: 1, TaskKey: "node-a-3", TotalIndexDocs: 1},
	}

	err := client.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	assert.Equal(t, "node-a", gotHeader.Get(HeaderOriginRemote))
	assert.Equal(t, "3", gotHeader.Get(HeaderOriginTaskUID))
	assert.Equal(t, "movies", gotHeader.Get(HeaderImportIndex))
	assert.Equal(t, `{"id":1}`+"\n", string(gotBody))
}

func TestExportClientDoReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewExportClient()
	req := ExportRequest{
		Remote: Remote{URL: srv.URL},
		Index:  "movies",
		Origin: Origin{Remote: "node-a"},
		Import: ImportMetadata{Remote: "node-a"},
	}

	err := client.Do(context.Background(), req)
	require.Error(t, err)
}

func TestExportClientDoReturnsErrorOnUnreachableRemote(t *testing.T) {
	client := NewExportClient()
	req := ExportRequest{
		Remote: Remote{URL: "http://127.0.0.1:1"},
		Index:  "movies",
		Origin: Origin{Remote: "node-a"},
		Import: ImportMetadata{Remote: "node-a"},
	}

	err := client.Do(context.Background(), req)
	require.Error(t, err)
}

func TestExportClientDoOmitsAuthorizationWithoutWriteKey(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewExportClient()
	req := ExportRequest{
		Remote: Remote{URL: srv.URL},
		Index:  "movies",
		Origin: Origin{Remote: "node-a"},
		Import: ImportMetadata{Remote: "node-a"},
	}
	require.NoError(t, client.Do(context.Background(), req))
	assert.Empty(t, gotHeader.Get("Authorization"))
}
