package openai

import (
	openaigo "github.com/openai/openai-go/v3"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

func messageParams(turn assistant.Turn) openaigo.BetaThreadMessageNewParams {
	params := openaigo.BetaThreadMessageNewParams{
		Role: openaigo.BetaThreadMessageNewParamsRoleUser,
	}

	if len(turn.Parts) == 0 {
		params.Content = openaigo.BetaThreadMessageNewParamsContentUnion{OfString: openaigo.String(turn.Text)}
	} else {
		parts := make([]openaigo.MessageContentPartParamUnion, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch p.Type {
			case assistant.PartImageURL:
				parts = append(parts, openaigo.MessageContentPartParamOfImageURL(openaigo.ImageURLParam{
					URL:    p.ImageURL,
					Detail: openaigo.ImageURLDetail(p.ImageDetail),
				}))
			case assistant.PartText:
				parts = append(parts, openaigo.MessageContentPartParamOfText(p.Text))
			}
		}
		params.Content = openaigo.BetaThreadMessageNewParamsContentUnion{OfArrayOfContentParts: parts}
	}

	for _, a := range turn.Attachments {
		att := openaigo.BetaThreadMessageNewParamsAttachment{FileID: openaigo.String(a.FileID)}
		for _, tool := range a.Tools {
			if tool == assistant.ToolFileSearch {
				att.Tools = append(att.Tools, openaigo.BetaThreadMessageNewParamsAttachmentToolUnion{
					OfFileSearch: &openaigo.BetaThreadMessageNewParamsAttachmentToolFileSearch{},
				})
			}
		}
		params.Attachments = append(params.Attachments, att)
	}
	return params
}

func convertEvent(ev openaigo.AssistantStreamEventUnion) assistant.Event {
	out := assistant.Event{Kind: assistant.EventKind(ev.Event)}

	switch out.Kind {
	case assistant.EventRequiresAction:
		run := ev.AsThreadRunRequiresAction().Data
		out.RunID = run.ID
		out.ThreadID = run.ThreadID
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, assistant.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}

	case assistant.EventRunFailed:
		run := ev.AsThreadRunFailed().Data
		out.RunID = run.ID
		out.ThreadID = run.ThreadID
		out.Err = run.LastError.Code + ": " + run.LastError.Message

	case assistant.EventMessageCompleted:
		msg := ev.AsThreadMessageCompleted().Data
		out.RunID = msg.RunID
		out.ThreadID = msg.ThreadID
		out.Message = &assistant.Message{ID: msg.ID, Content: convertContent(msg.Content)}

	case assistant.EventError:
		e := ev.AsErrorEvent().Data
		out.Err = e.Message
		if e.Code != "" {
			out.Err = e.Code + ": " + e.Message
		}
	}
	return out
}

func convertContent(content []openaigo.MessageContentUnion) []assistant.ContentPart {
	parts := make([]assistant.ContentPart, 0, len(content))
	for _, c := range content {
		part := assistant.ContentPart{Type: assistant.PartType(c.Type)}
		switch part.Type {
		case assistant.PartText:
			part.Text = c.Text.Value
			for _, a := range c.Text.Annotations {
				part.Annotations = append(part.Annotations, assistant.Annotation{
					Text:       a.Text,
					StartIndex: a.StartIndex,
					EndIndex:   a.EndIndex,
				})
			}
		case assistant.PartImageURL:
			part.ImageURL = c.ImageURL.URL
			part.ImageDetail = string(c.ImageURL.Detail)
		case assistant.PartImageFile:
			part.ImageFileID = c.ImageFile.FileID
		case assistant.PartRefusal:
			part.Refusal = c.Refusal
		}
		parts = append(parts, part)
	}
	return parts
}
