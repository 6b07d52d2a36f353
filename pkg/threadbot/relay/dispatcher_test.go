package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
	"github.com/jholhewres/threadbot/pkg/threadbot/assistant/assistanttest"
	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

func requiresAction(runID string, calls ...assistant.ToolCall) assistant.Event {
	return assistant.Event{
		Kind:      assistant.EventRequiresAction,
		RunID:     runID,
		ThreadID:  "thread_1",
		ToolCalls: calls,
	}
}

func TestDispatcher_StripsAnnotations(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{completed(assistant.ContentPart{
		Type: assistant.PartText,
		Text: "See the report【4:0†source】 for details【4:1†source】.",
		Annotations: []assistant.Annotation{
			{Text: "【4:0†source】", StartIndex: 14, EndIndex: 26},
			{Text: "【4:1†source】", StartIndex: 38, EndIndex: 50},
		},
	})}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "summarize"))
	assert.Equal(t, []string{"See the report for details."}, out.contents())
}

func TestStripAnnotations(t *testing.T) {
	tests := []struct {
		name string
		text string
		anns []assistant.Annotation
		want string
	}{
		{name: "none", text: "plain", want: "plain"},
		{name: "single", text: "a[1]b", anns: []assistant.Annotation{{Text: "[1]"}}, want: "ab"},
		{name: "repeated marker removed once per annotation", text: "x[1]y[1]", anns: []assistant.Annotation{{Text: "[1]"}}, want: "xy[1]"},
		{name: "empty annotation text ignored", text: "keep", anns: []assistant.Annotation{{Text: ""}}, want: "keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripAnnotations(tt.text, tt.anns))
		})
	}
}

func TestDispatcher_RefusalIsSentAsText(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{completed(assistant.ContentPart{
		Type:    assistant.PartRefusal,
		Refusal: "policy",
	})}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "do it"))
	require.Len(t, out.texts, 1)
	assert.Equal(t, "Refuse to generate. Reason: policy", out.texts[0].Content)
	assert.Equal(t, "none", out.texts[0].ParseMode)
}

func TestDispatcher_ImageParts(t *testing.T) {
	svc := assistanttest.New()
	svc.Contents["file_img"] = []byte("png-bytes")
	svc.Runs = [][]assistant.Event{{completed(
		assistant.ContentPart{Type: assistant.PartImageURL, ImageURL: "https://img/cat.png"},
		assistant.ContentPart{Type: assistant.PartImageFile, ImageFileID: "file_img"},
	)}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "draw"))

	require.Len(t, out.media, 2)
	assert.Equal(t, channels.MessageImage, out.media[0].Type)
	assert.Equal(t, "https://img/cat.png", out.media[0].URL)
	assert.Equal(t, []byte("png-bytes"), out.media[1].Data)
	assert.Equal(t, "file_img.png", out.media[1].Filename)
}

func TestDispatcher_PartFailureDoesNotStopLaterParts(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{
		completed(
			assistant.ContentPart{Type: assistant.PartImageFile, ImageFileID: "missing"},
			textPart("still here"),
		),
		completed(textPart("and here")),
	}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))
	assert.Equal(t, []string{"still here", "and here"}, out.contents())
	assert.Empty(t, out.media)
}

func TestDispatcher_SendFailureIsIsolated(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{completed(textPart("one")), completed(textPart("two"))}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{sendErr: errors.New("chat not found")}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))
	assert.Empty(t, out.texts)
}

func TestDispatcher_BlankTextIsNotSent(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{completed(assistant.ContentPart{
		Type:        assistant.PartText,
		Text:        "【1】",
		Annotations: []assistant.Annotation{{Text: "【1】"}},
	})}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))
	assert.Empty(t, out.texts)
}

func TestDispatcher_ErrorEventsAreSkipped(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{
		{Kind: assistant.EventError, Err: "server_error"},
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		completed(textPart("recovered")),
		{Kind: assistant.EventRunFailed, RunID: "run_1", Err: "rate_limit_exceeded"},
	}}
	r, _, _ := newTestRelay(svc, nil)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))
	assert.Equal(t, []string{"recovered"}, out.contents())
}

func TestDispatcher_ToolOutputsResumeRun(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{
		requiresAction("run_1",
			assistant.ToolCall{ID: "call_a", Name: "echo", Arguments: "one"},
			assistant.ToolCall{ID: "call_b", Name: "echo", Arguments: "two"},
		),
	}}
	svc.Submits = [][]assistant.Event{{completed(textPart("done"))}}

	tools := NewToolRegistry(nil)
	tools.Register("echo", func(_ context.Context, inv Invocation) (string, error) {
		return inv.Arguments, nil
	})
	r, _, _ := newTestRelay(svc, tools)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))

	require.Len(t, svc.Submissions, 1)
	sub := svc.Submissions[0]
	assert.Equal(t, "thread_1", sub.ThreadID)
	assert.Equal(t, "run_1", sub.RunID)
	assert.Equal(t, []assistant.ToolOutput{
		{ToolCallID: "call_a", Output: "one"},
		{ToolCallID: "call_b", Output: "two"},
	}, sub.Outputs)
	assert.Equal(t, []string{"done"}, out.contents())
}

func TestDispatcher_NestedToolRounds(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{requiresAction("run_1", assistant.ToolCall{ID: "c1", Name: "echo", Arguments: "1"})}}
	svc.Submits = [][]assistant.Event{
		{requiresAction("run_1", assistant.ToolCall{ID: "c2", Name: "echo", Arguments: "2"})},
		{completed(textPart("after two rounds"))},
	}
	tools := NewToolRegistry(nil)
	tools.Register("echo", func(_ context.Context, inv Invocation) (string, error) { return inv.Arguments, nil })
	r, _, _ := newTestRelay(svc, tools)
	out := &recordingOutbound{}

	require.NoError(t, r.SendText(context.Background(), out, alice, "go"))

	require.Len(t, svc.Submissions, 2)
	assert.Equal(t, "c1", svc.Submissions[0].Outputs[0].ToolCallID)
	assert.Equal(t, "c2", svc.Submissions[1].Outputs[0].ToolCallID)
	assert.Equal(t, []string{"after two rounds"}, out.contents())
}

func TestDispatcher_ToolRoundLimit(t *testing.T) {
	svc := assistanttest.New()
	loop := requiresAction("run_1", assistant.ToolCall{ID: "c", Name: "echo"})
	svc.Runs = [][]assistant.Event{{loop}}
	svc.Submits = [][]assistant.Event{{loop}, {loop}, {loop}}

	tools := NewToolRegistry(nil)
	tools.Register("echo", func(context.Context, Invocation) (string, error) { return "", nil })
	r := New(Config{AssistantID: "asst_1", MaxToolRounds: 2}, svc, &fakeSessions{threadID: "thread_1"}, &fakeIngestor{}, tools, nil)

	require.NoError(t, r.SendText(context.Background(), &recordingOutbound{}, alice, "go"))
	assert.Len(t, svc.Submissions, 2)

	require.Equal(t, 1, svc.CallCount("CancelRun"))
	for _, c := range svc.Calls {
		if c.Method == "CancelRun" {
			assert.Equal(t, []string{"thread_1", "run_1"}, c.Args)
		}
	}
}

func TestDispatcher_ToolRoundLimitCancelFailure(t *testing.T) {
	svc := assistanttest.New()
	loop := requiresAction("run_1", assistant.ToolCall{ID: "c", Name: "echo"})
	svc.Runs = [][]assistant.Event{{loop}}
	svc.Submits = [][]assistant.Event{{loop}}
	svc.Errors["CancelRun"] = errors.New("run already expired")

	tools := NewToolRegistry(nil)
	tools.Register("echo", func(context.Context, Invocation) (string, error) { return "", nil })
	r := New(Config{AssistantID: "asst_1", MaxToolRounds: 1}, svc, &fakeSessions{threadID: "thread_1"}, &fakeIngestor{}, tools, nil)

	require.NoError(t, r.SendText(context.Background(), &recordingOutbound{}, alice, "go"))
	assert.Len(t, svc.Submissions, 1)
	assert.Equal(t, 1, svc.CallCount("CancelRun"))
}

func TestDispatcher_UnknownToolStillSubmits(t *testing.T) {
	svc := assistanttest.New()
	svc.Runs = [][]assistant.Event{{requiresAction("run_1", assistant.ToolCall{ID: "c1", Name: "browse"})}}
	r, _, _ := newTestRelay(svc, nil)

	require.NoError(t, r.SendText(context.Background(), &recordingOutbound{}, alice, "go"))

	require.Len(t, svc.Submissions, 1)
	assert.Equal(t, []assistant.ToolOutput{{ToolCallID: "c1", Output: "Unsupported tool: browse"}}, svc.Submissions[0].Outputs)
}
