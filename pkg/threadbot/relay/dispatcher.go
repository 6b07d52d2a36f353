package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

// Outbound is the part of a channel replies are delivered through.
type Outbound interface {
	Send(ctx context.Context, to string, message *channels.OutgoingMessage) error
	SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error
}

// FileFetcher downloads assistant-generated files.
type FileFetcher interface {
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

// state is the dispatcher's position in a run.
type state string

const (
	stateListening   state = "listening"
	stateDispatching state = "dispatching-tools"
	stateEmitting    state = "emitting"
	stateTerminal    state = "terminal"
)

// ErrToolRoundLimit is reported when a run keeps requesting tools past the
// configured number of rounds.
var ErrToolRoundLimit = errors.New("relay: tool round limit reached")

// dispatcher consumes the events of one run for one sender. Tool output
// submissions open new streams; those are queued and drained in order after
// the current stream ends, so nested runs never recurse.
type dispatcher struct {
	runs      assistant.Runs
	files     FileFetcher
	tools     *ToolRegistry
	out       Outbound
	sender    Sender
	threadID  string
	maxRounds int
	logger    *slog.Logger

	state  state
	queue  []assistant.EventStream
	rounds int
}

// run drains first and every stream opened by tool submissions. Errors in
// individual events are logged and skipped. The returned error reports the
// last stream-level failure, if any.
func (d *dispatcher) run(ctx context.Context, first assistant.EventStream) error {
	d.queue = append(d.queue[:0], first)
	d.transition(stateListening)

	var streamErr error
	for len(d.queue) > 0 {
		stream := d.queue[0]
		d.queue = d.queue[1:]

		for stream.Next() {
			ev := stream.Current()
			if err := d.handle(ctx, ev); err != nil {
				d.logger.Error("event handling failed", "event", ev.Kind, "run", ev.RunID, "error", err)
			}
			d.transition(stateListening)
		}
		if err := stream.Err(); err != nil {
			d.logger.Error("run stream failed", "thread", d.threadID, "error", err)
			streamErr = err
		}
		_ = stream.Close()
	}

	d.transition(stateTerminal)
	return streamErr
}

func (d *dispatcher) transition(to state) {
	if d.state == to {
		return
	}
	d.logger.Debug("dispatcher state", "from", d.state, "to", to)
	d.state = to
}

func (d *dispatcher) handle(ctx context.Context, ev assistant.Event) error {
	switch ev.Kind {
	case assistant.EventRequiresAction:
		d.transition(stateDispatching)
		return d.dispatchTools(ctx, ev)

	case assistant.EventMessageCompleted:
		d.transition(stateEmitting)
		if ev.Message == nil {
			return nil
		}
		var errs []error
		for i, part := range ev.Message.Content {
			if err := d.emit(ctx, part); err != nil {
				errs = append(errs, fmt.Errorf("part %d (%s): %w", i, part.Type, err))
			}
		}
		return errors.Join(errs...)

	case assistant.EventError, assistant.EventRunFailed:
		d.logger.Error("run reported an error", "event", ev.Kind, "run", ev.RunID, "error", ev.Err)
		return nil

	default:
		return nil
	}
}

func (d *dispatcher) dispatchTools(ctx context.Context, ev assistant.Event) error {
	threadID := ev.ThreadID
	if threadID == "" {
		threadID = d.threadID
	}

	if d.rounds >= d.maxRounds {
		// A run left in requires_action locks the thread for every sender.
		if err := d.runs.CancelRun(ctx, threadID, ev.RunID); err != nil {
			return fmt.Errorf("%w (%d): cancelling run: %w", ErrToolRoundLimit, d.maxRounds, err)
		}
		return fmt.Errorf("%w (%d): run cancelled", ErrToolRoundLimit, d.maxRounds)
	}

	outputs := d.tools.Dispatch(ctx, ev.ToolCalls, d.sender)
	d.rounds++
	d.logger.Info("submitting tool outputs", "run", ev.RunID, "calls", len(outputs), "round", d.rounds)

	d.queue = append(d.queue, d.runs.SubmitToolOutputs(ctx, threadID, ev.RunID, outputs))
	return nil
}

func (d *dispatcher) emit(ctx context.Context, part assistant.ContentPart) error {
	to := d.sender.ChatID

	switch part.Type {
	case assistant.PartText:
		text := StripAnnotations(part.Text, part.Annotations)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return d.out.Send(ctx, to, &channels.OutgoingMessage{Content: text})

	case assistant.PartImageURL:
		return d.out.SendMedia(ctx, to, &channels.MediaMessage{
			Type: channels.MessageImage,
			URL:  part.ImageURL,
		})

	case assistant.PartImageFile:
		data, err := d.files.FileContent(ctx, part.ImageFileID)
		if err != nil {
			return fmt.Errorf("fetching image file %s: %w", part.ImageFileID, err)
		}
		return d.out.SendMedia(ctx, to, &channels.MediaMessage{
			Type:     channels.MessageImage,
			Data:     data,
			Filename: part.ImageFileID + ".png",
		})

	case assistant.PartRefusal:
		return d.out.Send(ctx, to, &channels.OutgoingMessage{
			Content:   "Refuse to generate. Reason: " + part.Refusal,
			ParseMode: "none",
		})

	default:
		d.logger.Debug("ignoring content part", "type", part.Type)
		return nil
	}
}

// StripAnnotations removes every annotation marker from text.
func StripAnnotations(text string, annotations []assistant.Annotation) string {
	for _, a := range annotations {
		if a.Text == "" {
			continue
		}
		text = strings.Replace(text, a.Text, "", 1)
	}
	return text
}
