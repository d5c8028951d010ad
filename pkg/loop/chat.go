package loop

import (
	"context"

	"github.com/convoflow/agentloop/pkg/model"
	"github.com/convoflow/agentloop/pkg/telemetry"
)

// Chat performs one completion call outside the tool loop and returns the
// assistant text. It covers the plain question-answer path where no tools
// are registered and no iteration is needed.
func Chat(ctx context.Context, m model.Model, tm *telemetry.Manager, conversation []model.Message) (string, error) {
	genCtx, end := tm.StartCompletion(ctx, "", 1)
	resp, err := m.Generate(genCtx, model.Request{Messages: conversation})
	end(string(resp.StopReason), err)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
