package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

// withBackend points the CLI at a fake server for one test.
func withBackend(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	prevURL, prevKey := backendURL, eventKey
	backendURL, eventKey = server.URL, "dev"
	t.Cleanup(func() {
		backendURL, eventKey = prevURL, prevKey
		server.Close()
	})
	return server
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return buf.String(), err
}
