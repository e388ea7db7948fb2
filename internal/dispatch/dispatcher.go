// Package dispatch fans an approved output out to destination channels
// under the same draft-first discipline as the rest of the system.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/models"
)

// Sender delivers content to one recipient on one channel. Channel
// adapters (WhatsApp, email, SMS, voice, web) are external collaborators
// behind this interface.
type Sender interface {
	Send(ctx context.Context, recipient, content string) error
}

// Request describes one fan-out of an approved response.
type Request struct {
	RawResponse   string
	OriginChannel string
	EchoChannels  []string
	Recipient     string
	RecipientInfo map[string]string
	TraceID       uuid.UUID
	// DraftOnly stages echo-channel sends as drafts instead of sending.
	// False requires Privileged and is logged; unprivileged callers are
	// forced back to draft-only.
	DraftOnly  bool
	Privileged bool
}

// ChannelResult is the per-channel outcome of a dispatch.
type ChannelResult struct {
	Channel    string `json:"channel"`
	Delivered  bool   `json:"delivered"`
	DraftIndex *int   `json:"draft_index,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher fans out to channel senders, deduplicates destinations, and
// stages echo sends as drafts.
type Dispatcher struct {
	senders map[string]Sender
	queue   *drafts.Queue
	log     *slog.Logger
}

func New(senders map[string]Sender, queue *drafts.Queue, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{senders: senders, queue: queue, log: log}
}

// echoSendArgs is the staged-draft payload for a deferred channel send.
type echoSendArgs struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// Dispatch sends the approved response back on the origin channel and
// stages (or, with a privileged bypass, sends) one copy per echo channel.
// The origin result is always first in the returned slice.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []ChannelResult {
	draftOnly := req.DraftOnly
	if !draftOnly && !req.Privileged {
		d.log.Warn("draft-only bypass denied for unprivileged caller", "trace_id", req.TraceID)
		draftOnly = true
	}
	if !draftOnly {
		d.log.Warn("draft-only bypass in effect", "trace_id", req.TraceID, "origin", req.OriginChannel)
	}

	results := []ChannelResult{d.send(ctx, req.OriginChannel, req.Recipient, req.RawResponse)}

	seen := map[string]bool{req.OriginChannel: true}
	for _, ch := range req.EchoChannels {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		recipient := req.Recipient
		if info, ok := req.RecipientInfo[ch]; ok && info != "" {
			recipient = info
		}

		if draftOnly {
			args, err := json.Marshal(echoSendArgs{Channel: ch, Recipient: recipient, Content: req.RawResponse})
			if err != nil {
				results = append(results, ChannelResult{Channel: ch, Error: err.Error()})
				continue
			}
			staged := d.queue.Stage(req.TraceID, "send_"+ch, args, "")
			idx := staged.Index
			results = append(results, ChannelResult{Channel: ch, DraftIndex: &idx})
			continue
		}
		results = append(results, d.send(ctx, ch, recipient, req.RawResponse))
	}
	return results
}

// ExecuteStagedSend performs the deferred send held in an approved
// send_<channel> draft. Drafts staged by Dispatch carry echoSendArgs.
func (d *Dispatcher) ExecuteStagedSend(ctx context.Context, draft *models.Draft) ChannelResult {
	var args echoSendArgs
	if err := json.Unmarshal(draft.Args, &args); err != nil {
		return ChannelResult{Channel: draft.ToolName, Error: fmt.Sprintf("decode staged send: %v", err)}
	}
	return d.send(ctx, args.Channel, args.Recipient, args.Content)
}

// send delivers immediately on one channel.
func (d *Dispatcher) send(ctx context.Context, channel, recipient, content string) ChannelResult {
	sender, ok := d.senders[channel]
	if !ok {
		return ChannelResult{Channel: channel, Error: fmt.Sprintf("no sender configured for channel %q", channel)}
	}
	if err := sender.Send(ctx, recipient, content); err != nil {
		d.log.Warn("channel send failed", "channel", channel, "recipient", recipient, "error", err)
		return ChannelResult{Channel: channel, Error: err.Error()}
	}
	return ChannelResult{Channel: channel, Delivered: true}
}
