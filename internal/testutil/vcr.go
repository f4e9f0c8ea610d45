// Package testutil holds HTTP replay helpers shared by adapter tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// ReplayClient returns an HTTP client backed by the cassette
// testdata/fixtures/<name>.yaml. Set VCR_MODE=record to re-record against
// the live backend. The recorder is stopped when the test ends.
func ReplayClient(t *testing.T, name string) *http.Client {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), mode, nil)
	if err != nil {
		t.Fatalf("recorder.NewAsMode(%s) error = %v", name, err)
	}

	// Bodies carry keys and timestamps; match on method and URL only.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})

	// Never persist credentials.
	r.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Authorization")
		delete(i.Request.Headers, "X-Goog-Api-Key")
		return nil
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("recorder.Stop() error = %v", err)
		}
	})

	return &http.Client{Transport: r}
}
