package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ostrepo/ostrepo/internal/types"
)

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	r.ObjectStaged(types.ObjectFile)
	r.BytesHashed(1024)
	r.CheckoutLinked()
	r.CheckoutCopied()
	r.CheckoutSkipped()
	r.PackResync("origin")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Errorf("nil Recorder's Handler() returned %d, want 404", rec.Code)
	}
}

func TestRecorderExposesCounters(t *testing.T) {
	r := New()
	r.ObjectStaged(types.ObjectFile)
	r.ObjectStaged(types.ObjectFile)
	r.ObjectStaged(types.ObjectCommit)
	r.BytesHashed(2048)
	r.CheckoutLinked()
	r.CheckoutCopied()
	r.CheckoutSkipped()
	r.PackResync("origin")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("Handler() returned %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`ostrepo_objects_staged_total{type="file"} 2`,
		`ostrepo_objects_staged_total{type="commit"} 1`,
		`ostrepo_content_bytes_hashed_total 2048`,
		`ostrepo_checkout_files_linked_total 1`,
		`ostrepo_checkout_files_copied_total 1`,
		`ostrepo_checkout_files_skipped_total 1`,
		`ostrepo_remote_lookaside_resyncs_total{remote="origin"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition body missing %q", want)
		}
	}
}
