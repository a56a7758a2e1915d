package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestCmd_Use(t *testing.T) {
	assert.Equal(t, "ingest [pdf-path]", ingestCmd.Use)
}

func TestIngestCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestIngestCmd_Flags(t *testing.T) {
	sourceFlag := ingestCmd.Flags().Lookup("source-id")
	require.NotNil(t, sourceFlag)
	assert.Equal(t, "", sourceFlag.DefValue)

	timeoutFlag := ingestCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, "2m0s", timeoutFlag.DefValue)
}

func TestIngestCmd_MissingFile(t *testing.T) {
	_, err := execute(t, "ingest", filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
}

func TestIngestCmd_Executes(t *testing.T) {
	pdfPath := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644))

	var sentData map[string]interface{}
	withBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/e/dev":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "rag/ingest_pdf", body["name"])
			sentData, _ = body["data"].(map[string]interface{})
			fmt.Fprint(w, `{"ids":["evt-1"],"status":200}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/events/evt-1/runs":
			fmt.Fprint(w, `{"data":[{"run_id":"run-1","status":"Completed","output":{"ingested":7}}]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	out, err := execute(t, "ingest", pdfPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Ingested 7 chunks from report.pdf")
	require.NotNil(t, sentData)
	assert.Equal(t, pdfPath, sentData["pdf_path"])
	assert.Equal(t, "report.pdf", sentData["source_id"])
}

func TestIngestCmd_CustomSourceID(t *testing.T) {
	pdfPath := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644))

	var sentData map[string]interface{}
	withBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			sentData, _ = body["data"].(map[string]interface{})
			fmt.Fprint(w, `{"ids":["evt-1"],"status":200}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"run_id":"run-1","status":"Completed","output":{"ingested":1}}]}`)
	}))

	prev := ingestSourceID
	t.Cleanup(func() { ingestSourceID = prev })

	_, err := execute(t, "ingest", pdfPath, "--source-id", "contracts/2026")
	require.NoError(t, err)
	assert.Equal(t, "contracts/2026", sentData["source_id"])
}

func TestIngestCmd_RunFails(t *testing.T) {
	pdfPath := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644))

	withBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"ids":["evt-1"],"status":200}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"run_id":"run-1","status":"Failed","error":"pdf contains no extractable text"}]}`)
	}))

	prev := ingestSourceID
	ingestSourceID = ""
	t.Cleanup(func() { ingestSourceID = prev })

	_, err := execute(t, "ingest", pdfPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Run Failed")
}
