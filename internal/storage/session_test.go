package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coda/internal/message"
	"coda/internal/policy/approval"
	"coda/internal/session"
)

func TestSessionStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := session.New()
	s.History.Append(
		message.NewUser("hello"),
		message.New(message.RoleAssistant, message.TextPart("hi")),
	)
	require.NoError(t, s.SetMode(session.ModePlan))
	s.SetPendingPlan("1. read\n2. write")
	s.MentionSkill("go")

	require.NoError(t, db.SaveSession(ctx, s))

	loaded, err := db.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	want, err := s.Export()
	require.NoError(t, err)
	got, err := loaded.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, "1. read\n2. write", loaded.PendingPlan())

	// Saving again replaces the stored snapshot.
	s.History.Append(message.NewUser("again"))
	require.NoError(t, db.SaveSession(ctx, s))
	loaded, err = db.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.History.Len())

	infos, err := db.ListSessions(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, s.ID, infos[0].ID)
	assert.Equal(t, session.ModePlan, infos[0].Mode)
	assert.Equal(t, 3, infos[0].Messages)
}

func TestSessionStore_NotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LoadSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteSession(ctx, "missing"), ErrNotFound)
}

func TestSessionStore_ListOrderAndPaging(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s := session.New()
		require.NoError(t, db.SaveSession(ctx, s))
		ids = append(ids, s.ID)
		time.Sleep(5 * time.Millisecond)
	}

	infos, err := db.ListSessions(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ids[2], infos[0].ID)
	assert.Equal(t, ids[1], infos[1].ID)

	infos, err = db.ListSessions(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ids[0], infos[0].ID)
}

func TestDeleteSession_RemovesNotes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := session.New()
	require.NoError(t, db.SaveSession(ctx, s))
	require.NoError(t, db.AppendNote(ctx, s.ID, "summary one"))
	require.NoError(t, db.AppendNote(ctx, s.ID, "summary two"))
	require.NoError(t, db.AppendNote(ctx, "other", "unrelated"))

	notes, err := db.ListNotes(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "summary one", notes[0].Content)
	assert.Equal(t, "summary two", notes[1].Content)

	require.NoError(t, db.DeleteSession(ctx, s.ID))
	notes, err = db.ListNotes(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)

	other, err := db.ListNotes(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestApprovalAudit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Second)
	first := &approval.Request{
		ID: "r1", CallID: "c1", ToolName: "bash", Permission: "bash",
		Arguments: `{"command":"rm -rf build"}`, Reason: "needs approval",
		SessionID: "s1", CreatedAt: created,
	}
	second := &approval.Request{ID: "r2", ToolName: "write", SessionID: "s1", CreatedAt: created.Add(time.Millisecond)}

	require.NoError(t, db.LogRequest(first))
	require.NoError(t, db.LogRequest(first))
	require.NoError(t, db.LogDecision(first, &approval.Result{
		Approved: true, ApprovedBy: "user", Decision: approval.DecisionApproved, DecidedAt: time.Now(),
	}))
	// A decision without a logged request still lands in the trail.
	require.NoError(t, db.LogDecision(second, &approval.Result{
		Decision: approval.DecisionTimeout, Message: "approval timed out", DecidedAt: time.Now(),
	}))

	records, err := db.ListApprovals(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "r1", records[0].Request.ID)
	assert.Equal(t, "bash", records[0].Request.ToolName)
	assert.Equal(t, `{"command":"rm -rf build"}`, records[0].Request.Arguments)
	assert.Equal(t, approval.DecisionApproved, records[0].Decision)
	assert.Equal(t, "user", records[0].DecidedBy)
	assert.False(t, records[0].DecidedAt.IsZero())

	assert.Equal(t, "r2", records[1].Request.ID)
	assert.Equal(t, approval.DecisionTimeout, records[1].Decision)
	assert.Equal(t, "approval timed out", records[1].Message)
}
