package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "DDXF-Market/internal/errors"
)

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Channel() Channel { return "count" }

func (n *countingNotifier) Notify(context.Context, Event) error {
	n.calls.Add(1)
	return nil
}

func TestFanoutSkipsNonAlertingCodes(t *testing.T) {
	counter := &countingNotifier{}
	d := NewFanout(counter)

	if err := d.Notify(context.Background(), Event{Code: xerrors.CodePrecondition}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if counter.calls.Load() != 0 {
		t.Fatalf("precondition failures should not alert")
	}
	if err := d.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if counter.calls.Load() != 1 {
		t.Fatalf("expected one alert, got %d", counter.calls.Load())
	}
}

func TestWebhookNotifierFormatsDingTalk(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &WebhookNotifier{Kind: ChannelDingTalk, URL: srv.URL, Client: srv.Client()}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeArithmetic,
		Severity: xerrors.SeverityCritical,
		TxHash:   "0xabc",
		Contract: "marketplace",
		Method:   "buyDToken",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("unexpected payload %v", got)
	}
	text, _ := got["text"].(map[string]any)
	content, _ := text["content"].(string)
	if !strings.Contains(content, "marketplace.buyDToken") || !strings.Contains(content, "tx=0xabc") {
		t.Fatalf("content missing call info: %q", content)
	}
}

func TestWebhookNotifierReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{Kind: ChannelSlack, URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
