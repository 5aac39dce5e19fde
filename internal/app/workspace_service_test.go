package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/app"
	"inkwell/internal/model"
)

func TestWorkspaceServiceRulesAndLiveDocs(t *testing.T) {
	w := newWorkspace()
	svc := app.NewWorkspaceService(w.livedocs, w.rules, nil, nil)
	ctx := context.Background()

	_, err := svc.SaveRules(ctx, "w1", model.RulesContent{Tone: " friendly ", Constraints: []string{"", "No jargon"}})
	require.NoError(t, err)
	got, err := svc.GetRules(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.RulesContent{Tone: "friendly", Constraints: []string{"No jargon"}}, got)

	res, err := svc.UpdateLiveDoc(ctx, "w1", "draft.md", "A short draft.")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	chunks, err := svc.LiveDocChunks(ctx, "w1", "draft.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short draft.", chunks[0].Text)
	require.NoError(t, svc.DeleteLiveDoc(ctx, "w1", "draft.md"))
	assert.Zero(t, w.store.Len())
}

func TestWorkspaceServiceValidates(t *testing.T) {
	svc := app.NewWorkspaceService(nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.UpdateLiveDoc(ctx, "w1", " ", "text")
	assert.ErrorIs(t, err, app.ErrInvalidInput)
	assert.ErrorIs(t, svc.DeleteLiveDoc(ctx, "", "a.md"), app.ErrInvalidInput)
	_, err = svc.LiveDocChunks(ctx, "w1", "")
	assert.ErrorIs(t, err, app.ErrInvalidInput)
	_, err = svc.GetRules(ctx, "")
	assert.ErrorIs(t, err, app.ErrInvalidInput)
	_, err = svc.SaveRules(ctx, "", model.RulesContent{})
	assert.ErrorIs(t, err, app.ErrInvalidInput)
	_, err = svc.ChatMemory(ctx, "w1", "", 0)
	assert.ErrorIs(t, err, app.ErrInvalidInput)
}
