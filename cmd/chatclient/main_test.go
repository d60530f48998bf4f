package main

import (
	"bytes"
	"chatterbox/internal/models"
	"chatterbox/internal/session"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeAPI struct {
	sent []models.SendRequest
}

func (f *fakeAPI) Contacts(ctx context.Context) ([]models.Contact, error) {
	return []models.Contact{
		{ID: "bob", FullName: "Bob", Online: true},
		{ID: "carol", FullName: "Carol"},
	}, nil
}

func (f *fakeAPI) Chats(ctx context.Context) ([]models.Contact, error) {
	return []models.Contact{}, nil
}

func (f *fakeAPI) Messages(ctx context.Context, contactID string) ([]models.Message, error) {
	return []models.Message{{ID: "m1", SenderID: "bob", ReceiverID: "me", Text: "hey", CreatedAt: time.Now()}}, nil
}

func (f *fakeAPI) Send(ctx context.Context, contactID string, req models.SendRequest) (models.Message, error) {
	f.sent = append(f.sent, req)
	return models.Message{ID: "m2", SenderID: "me", ReceiverID: contactID, Text: req.Text, CreatedAt: time.Now()}, nil
}

func TestHandleLine(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	store := session.New(session.Config{API: api, UserID: "me"})
	require.NoError(t, store.LoadContacts(ctx))

	var buf bytes.Buffer
	out := newPrinter(&buf)

	require.False(t, handleLine(ctx, out, store, "hello?"))
	require.Contains(t, buf.String(), "open a conversation first")
	require.Empty(t, api.sent)

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "/contacts"))
	require.Contains(t, buf.String(), "Bob *")
	require.Contains(t, buf.String(), "Carol")

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "/contacts online"))
	require.Contains(t, buf.String(), "Bob *")
	require.NotContains(t, buf.String(), "Carol")

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "/contacts away"))
	require.Contains(t, buf.String(), "usage: /contacts [online]")

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "/open bob"))
	require.Contains(t, buf.String(), "Bob: hey")
	require.Equal(t, "bob", store.Snapshot().Selected.ID)

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "hi bob"))
	require.Equal(t, []models.SendRequest{{Text: "hi bob"}}, api.sent)
	require.Contains(t, buf.String(), "me: hi bob")

	buf.Reset()
	require.False(t, handleLine(ctx, out, store, "/open nobody"))
	require.Contains(t, buf.String(), `unknown contact "nobody"`)

	require.False(t, handleLine(ctx, out, store, "/bogus"))
	require.True(t, handleLine(ctx, out, store, "/quit"))
}

func TestReadLines_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	lines := readLines(ctx, pr)

	go func() { _, _ = io.WriteString(pw, "first\nsecond\n") }()
	require.Equal(t, "first", <-lines)

	// "second" is never read; cancelling must release the scanner.
	cancel()
}
