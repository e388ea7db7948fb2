package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mock sender
// ---------------------------------------------------------------------------

type mockSender struct {
	mu    sync.Mutex
	sent  []string // recipient|content pairs
	err   error
}

func (m *mockSender) Send(_ context.Context, recipient, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, recipient+"|"+content)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// ---------------------------------------------------------------------------
// 1. Draft-first echo delivery
// ---------------------------------------------------------------------------

func TestDispatchStagesEchoDrafts(t *testing.T) {
	chat := &mockSender{}
	whatsapp := &mockSender{}
	queue := drafts.NewQueue(nil)
	d := New(map[string]Sender{
		models.ChannelChat:     chat,
		models.ChannelWhatsApp: whatsapp,
	}, queue, nil)

	trace := uuid.New()
	results := d.Dispatch(context.Background(), Request{
		RawResponse:   "Invoice #42 sent to Maria.",
		OriginChannel: models.ChannelChat,
		EchoChannels:  []string{models.ChannelWhatsApp},
		Recipient:     "user-7",
		TraceID:       trace,
		DraftOnly:     true,
	})

	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if !results[0].Delivered || results[0].Channel != models.ChannelChat {
		t.Errorf("origin result: got %+v, want delivered chat", results[0])
	}
	if results[1].DraftIndex == nil {
		t.Fatal("echo result should carry a staged draft index")
	}
	if whatsapp.count() != 0 {
		t.Error("echo channel must not be sent to directly when draft-only")
	}

	pending := queue.PendingFor(trace, "")
	if len(pending) != 1 {
		t.Fatalf("staged drafts: got %d, want 1", len(pending))
	}
	if pending[0].ToolName != "send_whatsapp" {
		t.Errorf("staged tool: got %q, want send_whatsapp", pending[0].ToolName)
	}
	var staged echoSendArgs
	if err := json.Unmarshal(pending[0].Args, &staged); err != nil {
		t.Fatalf("unmarshal staged args: %v", err)
	}
	if staged.Content != "Invoice #42 sent to Maria." {
		t.Errorf("staged content: got %q", staged.Content)
	}
}

// ---------------------------------------------------------------------------
// 2. Dedup against origin and repeated echoes
// ---------------------------------------------------------------------------

func TestDispatchDedupsChannels(t *testing.T) {
	chat := &mockSender{}
	queue := drafts.NewQueue(nil)
	d := New(map[string]Sender{models.ChannelChat: chat}, queue, nil)

	trace := uuid.New()
	results := d.Dispatch(context.Background(), Request{
		RawResponse:   "done",
		OriginChannel: models.ChannelChat,
		EchoChannels:  []string{models.ChannelChat, models.ChannelWhatsApp, models.ChannelWhatsApp},
		Recipient:     "user-7",
		TraceID:       trace,
		DraftOnly:     true,
	})

	// Origin + one deduped whatsapp echo.
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if chat.count() != 1 {
		t.Errorf("origin sends: got %d, want 1", chat.count())
	}
	if got := queue.PendingFor(trace, ""); len(got) != 1 {
		t.Errorf("staged drafts: got %d, want 1", len(got))
	}
}

// ---------------------------------------------------------------------------
// 3. Privileged bypass
// ---------------------------------------------------------------------------

func TestDispatchBypassRequiresPrivilege(t *testing.T) {
	whatsapp := &mockSender{}
	queue := drafts.NewQueue(nil)
	d := New(map[string]Sender{
		models.ChannelChat:     &mockSender{},
		models.ChannelWhatsApp: whatsapp,
	}, queue, nil)

	req := Request{
		RawResponse:   "done",
		OriginChannel: models.ChannelChat,
		EchoChannels:  []string{models.ChannelWhatsApp},
		Recipient:     "user-7",
		TraceID:       uuid.New(),
		DraftOnly:     false,
	}

	// Unprivileged: forced back to draft-only.
	d.Dispatch(context.Background(), req)
	if whatsapp.count() != 0 {
		t.Error("unprivileged bypass must not send directly")
	}

	// Privileged: echo goes out immediately.
	req.Privileged = true
	req.TraceID = uuid.New()
	results := d.Dispatch(context.Background(), req)
	if whatsapp.count() != 1 {
		t.Errorf("privileged echo sends: got %d, want 1", whatsapp.count())
	}
	if !results[1].Delivered {
		t.Errorf("privileged echo result: got %+v, want delivered", results[1])
	}
}

// ---------------------------------------------------------------------------
// 4. Failures are per-channel
// ---------------------------------------------------------------------------

func TestDispatchOriginFailureIsReported(t *testing.T) {
	chat := &mockSender{err: errors.New("adapter down")}
	queue := drafts.NewQueue(nil)
	d := New(map[string]Sender{models.ChannelChat: chat}, queue, nil)

	trace := uuid.New()
	results := d.Dispatch(context.Background(), Request{
		RawResponse:   "done",
		OriginChannel: models.ChannelChat,
		EchoChannels:  []string{models.ChannelWhatsApp},
		Recipient:     "user-7",
		TraceID:       trace,
		DraftOnly:     true,
	})

	if results[0].Delivered || results[0].Error == "" {
		t.Errorf("origin result should carry the failure: %+v", results[0])
	}
	// Echo staging proceeds despite the origin failure.
	if results[1].DraftIndex == nil {
		t.Error("echo draft should still be staged")
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := New(map[string]Sender{}, drafts.NewQueue(nil), nil)
	results := d.Dispatch(context.Background(), Request{
		RawResponse:   "done",
		OriginChannel: "pigeon",
		Recipient:     "user-7",
		TraceID:       uuid.New(),
		DraftOnly:     true,
	})
	if results[0].Delivered || results[0].Error == "" {
		t.Errorf("unknown channel should fail: %+v", results[0])
	}
}
