package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
	"github.com/zhouzirui/z-chat/backend/internal/service/tools"
	"github.com/zhouzirui/z-chat/backend/internal/service/transport"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu       sync.Mutex
	resp     *ai.Response
	err      error
	block    chan struct{}
	started  chan struct{}
	requests []ai.Request
}

func (g *stubGateway) Complete(ctx context.Context, req ai.Request) (*ai.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	resp := *g.resp
	return &resp, nil
}

func (g *stubGateway) lastRequest() ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type fixture struct {
	ctrl  *Controller
	store *session.Store
	blobs *persistence.MemoryBlobStore
}

func newFixture(t *testing.T, gateway ai.Gateway, opts Options) fixture {
	t.Helper()
	store := session.NewStore(session.NewState(chat.DefaultSettings(), epoch))
	blobs := persistence.NewMemoryBlobStore()
	ctrl := New(Deps{
		Store:       store,
		Gateway:     gateway,
		Tools:       tools.NewBuiltinRegistry(),
		Persistence: persistence.NewAdapter(blobs, nil),
	}, opts)
	t.Cleanup(ctrl.Close)
	return fixture{ctrl: ctrl, store: store, blobs: blobs}
}

func okResponse(content string) *ai.Response {
	cost := 0.02
	return &ai.Response{
		Content:   content,
		Model:     "gpt-4",
		Usage:     &ai.Usage{TotalTokens: 42},
		Cost:      &cost,
		ToolCalls: []ai.ToolCall{{Name: "file_read"}},
	}
}

func TestSendMessageSuccess(t *testing.T) {
	gw := &stubGateway{resp: okResponse("Hi there")}
	f := newFixture(t, gw, DefaultOptions())

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "Hello", nil))

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 2)

	user, assistant := state.Messages[0], state.Messages[1]
	require.Equal(t, chat.RoleUser, user.Role)
	require.Equal(t, chat.StatusSent, user.Status)
	require.Equal(t, "Hello", user.Content)

	require.Equal(t, chat.RoleAssistant, assistant.Role)
	require.Equal(t, chat.StatusReceived, assistant.Status)
	require.Equal(t, "Hi there", assistant.Content)
	require.Equal(t, 42, assistant.Metadata.Tokens)
	require.Equal(t, []string{"file_read"}, assistant.Metadata.Tools)

	require.False(t, state.IsLoading)
	require.Empty(t, state.StreamingBuffer)
	require.Nil(t, state.Error)
	require.Equal(t, 2, state.Metrics.TotalMessages)
	require.Equal(t, 42, state.Metrics.TotalTokens)
	require.InDelta(t, 0.02, state.Metrics.TotalCost, 1e-9)
	require.Equal(t, 1, state.Metrics.ToolUsageCount)
	require.InDelta(t, 100.0, state.Metrics.SuccessRate, 1e-9)

	req := gw.lastRequest()
	require.Equal(t, chat.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "You are a helpful AI assistant.", req.Messages[0].Content)
	require.Equal(t, ai.Turn{Role: chat.RoleUser, Content: "Hello"}, req.Messages[len(req.Messages)-1])
	require.Equal(t, "gpt-4", req.Model)
	require.True(t, req.Stream)
	require.NotEmpty(t, req.Tools)
}

func TestSendMessageIncludesHistory(t *testing.T) {
	gw := &stubGateway{resp: okResponse("ok")}
	f := newFixture(t, gw, DefaultOptions())

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "first", nil))
	require.NoError(t, f.ctrl.SendMessage(context.Background(), "second", nil))

	req := gw.lastRequest()
	var contents []string
	for _, turn := range req.Messages[1:] {
		contents = append(contents, turn.Content)
	}
	require.Equal(t, []string{"first", "ok", "second"}, contents)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	before := f.store.Snapshot()

	require.ErrorIs(t, f.ctrl.SendMessage(context.Background(), "   ", nil), ErrEmptyMessage)
	require.Empty(t, cmp.Diff(before, f.store.Snapshot()))
}

func TestSendMessageWithOnlyAttachment(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("nice picture")}, DefaultOptions())
	att, err := f.ctrl.AddAttachment(chat.Attachment{Name: "cat.png", MimeType: "image/png", ByteSize: 1024})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "", []chat.Attachment{att}))

	state := f.store.Snapshot()
	require.Empty(t, state.Attachments)
	require.Equal(t, []chat.Attachment{att}, state.Messages[0].Metadata.Attachments)
}

func TestSendMessageUsesPendingAttachments(t *testing.T) {
	gw := &stubGateway{resp: okResponse("a cat")}
	f := newFixture(t, gw, DefaultOptions())
	att, err := f.ctrl.AddAttachment(chat.Attachment{Name: "cat.png", MimeType: "image/png", ByteSize: 2048})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "look at this", nil))

	state := f.store.Snapshot()
	require.Empty(t, state.Attachments)
	require.Equal(t, "look at this", state.Messages[0].Content)
	require.Equal(t, []chat.Attachment{att}, state.Messages[0].Metadata.Attachments)
}

func TestSendMessagePendingAttachmentWithoutText(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("got it")}, DefaultOptions())
	att, err := f.ctrl.AddAttachment(chat.Attachment{Name: "notes.pdf", MimeType: "application/pdf", ByteSize: 10})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "  ", nil))

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 2)
	require.Equal(t, chat.StatusSent, state.Messages[0].Status)
	require.Equal(t, []chat.Attachment{att}, state.Messages[0].Metadata.Attachments)
	require.Empty(t, state.Attachments)
}

func TestSendMessageValidatesAttachments(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttachmentBytes = 1 << 20
	gw := &stubGateway{resp: okResponse("x")}
	f := newFixture(t, gw, opts)
	pending, err := f.ctrl.AddAttachment(chat.Attachment{Name: "keep.txt", Kind: chat.KindDocument, ByteSize: 1})
	require.NoError(t, err)
	before := f.store.Snapshot()

	cases := []struct {
		name   string
		atts   []chat.Attachment
		reason string
	}{
		{"unsupported kind", []chat.Attachment{{Name: "huge.bin", Kind: "bogus", ByteSize: 1 << 40}}, ReasonUnsupportedKind},
		{"too large", []chat.Attachment{{Name: "huge.bin", Kind: chat.KindCode, ByteSize: 1 << 40}}, ReasonTooLarge},
		{"negative size", []chat.Attachment{{Name: "odd.bin", Kind: chat.KindCode, ByteSize: -1}}, ReasonTooLarge},
		{"one bad in set", []chat.Attachment{
			{Name: "ok.png", MimeType: "image/png", ByteSize: 1},
			{Name: " ", Kind: chat.KindImage, ByteSize: 1},
		}, ReasonMissingName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.ctrl.SendMessage(context.Background(), "", tc.atts)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.reason, verr.Reason)
		})
	}

	require.Empty(t, cmp.Diff(before, f.store.Snapshot()))
	require.Equal(t, []chat.Attachment{pending}, f.store.Snapshot().Attachments)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Empty(t, gw.requests)
}

func TestSendMessageFailureKeepsContent(t *testing.T) {
	f := newFixture(t, &stubGateway{err: errors.New("provider unavailable")}, DefaultOptions())

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "Hello", nil))

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 1)
	require.Equal(t, chat.StatusError, state.Messages[0].Status)
	require.Equal(t, "Hello", state.Messages[0].Content)
	require.Equal(t, "provider unavailable", state.Messages[0].Error)
	require.NotNil(t, state.Error)
	require.Equal(t, "provider unavailable", *state.Error)
	require.Equal(t, 1, state.Metrics.ErrorCount)
	require.False(t, state.IsLoading)
}

func TestRetryPreservesContent(t *testing.T) {
	gw := &stubGateway{err: errors.New("boom")}
	f := newFixture(t, gw, DefaultOptions())
	attachments := []chat.Attachment{{ID: "a1", Kind: chat.KindDocument, Name: "notes.pdf", ByteSize: 10}}

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "Hello", attachments))
	original := f.store.Snapshot().Messages[0]
	require.Equal(t, chat.StatusError, original.Status)

	gw.mu.Lock()
	gw.err = nil
	gw.resp = okResponse("recovered")
	gw.mu.Unlock()

	require.NoError(t, f.ctrl.RetryMessage(context.Background(), original.ID))

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 3)
	require.Empty(t, cmp.Diff(original, state.Messages[0]))

	retried := state.Messages[1]
	require.NotEqual(t, original.ID, retried.ID)
	require.Equal(t, original.Content, retried.Content)
	require.Equal(t, original.Metadata.Attachments, retried.Metadata.Attachments)
	require.Equal(t, chat.StatusSent, retried.Status)
}

func TestRetryIgnoresUnknownAndNonUser(t *testing.T) {
	gw := &stubGateway{resp: okResponse("answer")}
	f := newFixture(t, gw, DefaultOptions())
	require.NoError(t, f.ctrl.SendMessage(context.Background(), "q", nil))
	before := f.store.Snapshot()

	require.NoError(t, f.ctrl.RetryMessage(context.Background(), "missing"))
	require.NoError(t, f.ctrl.RetryMessage(context.Background(), before.Messages[1].ID))
	require.Empty(t, cmp.Diff(before, f.store.Snapshot()))
}

func TestAtMostOneSendInFlight(t *testing.T) {
	gw := &stubGateway{resp: okResponse("done"), block: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newFixture(t, gw, DefaultOptions())

	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.SendMessage(context.Background(), "first", nil) }()
	<-gw.started

	require.True(t, f.ctrl.Busy())
	require.ErrorIs(t, f.ctrl.SendMessage(context.Background(), "second", nil), ErrSendInProgress)

	close(gw.block)
	require.NoError(t, <-errCh)
	require.False(t, f.ctrl.Busy())

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 2)
	require.Equal(t, "first", state.Messages[0].Content)
}

func TestCancelInFlightDiscardsResult(t *testing.T) {
	gw := &stubGateway{resp: okResponse("late"), block: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newFixture(t, gw, DefaultOptions())

	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.SendMessage(context.Background(), "Hello", nil) }()
	<-gw.started

	id := f.store.Snapshot().Messages[0].ID
	require.NoError(t, f.ctrl.CancelMessage(id))
	require.NoError(t, <-errCh)

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 1)
	require.Equal(t, chat.StatusCancelled, state.Messages[0].Status)
	require.False(t, state.IsLoading)
	require.Nil(t, state.Error)
}

func TestCancelUnknownMessage(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	require.ErrorIs(t, f.ctrl.CancelMessage("nope"), ErrMessageNotFound)
}

func TestCompletionTimeoutBecomesError(t *testing.T) {
	gw := &stubGateway{resp: okResponse("never"), block: make(chan struct{})}
	opts := DefaultOptions()
	opts.CompletionTimeout = 20 * time.Millisecond
	f := newFixture(t, gw, opts)

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "Hello", nil))

	msg := f.store.Snapshot().Messages[0]
	require.Equal(t, chat.StatusError, msg.Status)
	require.Contains(t, msg.Error, "timed out")
}

func TestSendWhileDisconnectedResolvesToError(t *testing.T) {
	opts := transport.DefaultOptions("ws://127.0.0.1:1/ws")
	ch := transport.NewChannel(opts)
	f := newFixture(t, ai.NewRemoteGateway(ch), DefaultOptions())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.SendMessage(context.Background(), "Hello", nil) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send stayed pending while disconnected")
	}

	msg := f.store.Snapshot().Messages[0]
	require.Equal(t, chat.StatusError, msg.Status)
	require.Contains(t, msg.Error, "not connected")
}

func TestStreamingGatewayFinalizesOnce(t *testing.T) {
	f := newFixture(t, ai.EchoGateway{}, DefaultOptions())

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "stream me please", nil))

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 2)
	require.Equal(t, "Echo: stream me please", state.Messages[1].Content)
	require.Equal(t, chat.StatusReceived, state.Messages[1].Status)
	require.Equal(t, 4, state.Messages[1].Metadata.Tokens)
	require.Equal(t, chat.StatusSent, state.Messages[0].Status)
	require.Empty(t, state.StreamingBuffer)
	require.False(t, state.IsLoading)
}

func TestStreamingDisabledUsesComplete(t *testing.T) {
	f := newFixture(t, ai.EchoGateway{}, DefaultOptions())
	off := false
	f.ctrl.UpdateSettings(context.Background(), chat.SettingsPatch{EnableStreaming: &off})

	require.NoError(t, f.ctrl.SendMessage(context.Background(), "plain", nil))
	require.Equal(t, "Echo: plain", f.store.Snapshot().Messages[1].Content)
}

func TestAttachmentValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttachmentBytes = 100
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, opts)
	before := f.store.Snapshot()

	cases := []struct {
		name   string
		att    chat.Attachment
		reason string
	}{
		{"too large", chat.Attachment{Name: "big.bin", Kind: chat.KindCode, ByteSize: 101}, ReasonTooLarge},
		{"missing name", chat.Attachment{Kind: chat.KindImage, ByteSize: 1}, ReasonMissingName},
		{"unsupported kind", chat.Attachment{Name: "x", Kind: "archive", ByteSize: 1}, ReasonUnsupportedKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ctrl.AddAttachment(tc.att)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.reason, verr.Reason)
		})
	}
	require.Empty(t, cmp.Diff(before, f.store.Snapshot()))

	att, err := f.ctrl.AddAttachment(chat.Attachment{Name: "clip.mp4", MimeType: "video/mp4", ByteSize: 100})
	require.NoError(t, err)
	require.Equal(t, chat.KindVideo, att.Kind)
	require.NotEmpty(t, att.ID)
	require.Len(t, f.store.Snapshot().Attachments, 1)

	f.ctrl.RemoveAttachment(att.ID)
	require.Empty(t, f.store.Snapshot().Attachments)
}

func TestImportWithoutSettingsKeepsSettings(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	before := f.store.Snapshot()

	err := f.ctrl.ImportSession(context.Background(), `{"messages":[{"id":"1","role":"user","content":"hi","status":"sent"}]}`)
	require.NoError(t, err)

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 1)
	require.Equal(t, "hi", state.Messages[0].Content)
	require.Equal(t, before.Settings, state.Settings)
}

func TestImportRejectsMalformedBlob(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	require.NoError(t, f.ctrl.SendMessage(context.Background(), "keep me", nil))
	before := f.store.Snapshot()

	blobs := []string{
		`not json`,
		`[]`,
		`{"settings":{}}`,
		`{"messages":{"id":"1"}}`,
		`{"messages":null}`,
		`{"messages":[{"role":"user"}]}`,
		`{"messages":[{"id":"1","role":"robot"}]}`,
		`{"messages":[{"id":"1","role":"user","status":"lost"}]}`,
		`{"messages":[],"settings":"dark"}`,
	}
	for _, blob := range blobs {
		err := f.ctrl.ImportSession(context.Background(), blob)
		require.ErrorIs(t, err, ErrInvalidImport, blob)
	}

	state := f.store.Snapshot()
	require.Empty(t, cmp.Diff(before.Messages, state.Messages))
	require.Equal(t, before.Settings, state.Settings)
	require.NotNil(t, state.Error)
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("answer")}, DefaultOptions())
	lang := "fr"
	f.ctrl.UpdateSettings(context.Background(), chat.SettingsPatch{Language: &lang})
	require.NoError(t, f.ctrl.SendMessage(context.Background(), "question", nil))
	exported, err := f.ctrl.ExportSession()
	require.NoError(t, err)

	other := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	require.NoError(t, other.ctrl.ImportSession(context.Background(), exported))

	got, want := other.store.Snapshot(), f.store.Snapshot()
	require.Empty(t, cmp.Diff(want.Messages, got.Messages))
	require.Equal(t, want.Settings, got.Settings)
	require.Equal(t, want.Metrics.TotalMessages, got.Metrics.TotalMessages)
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGateway{resp: okResponse("reply")}, DefaultOptions())

	first := f.ctrl.CreateThread(ctx, "")
	require.Equal(t, "Chat 1", first.Title)
	second := f.ctrl.CreateThread(ctx, "Ideas")
	require.Equal(t, second.ID, *f.store.Snapshot().SelectedThread)

	require.NoError(t, f.ctrl.SendMessage(ctx, "note this", nil))
	thread, ok := f.store.Snapshot().FindThread(second.ID)
	require.True(t, ok)
	require.Equal(t, 2, thread.MessageCount)
	require.Equal(t, "reply", thread.LastMessage)

	var persisted []chat.Thread
	require.True(t, persistence.NewAdapter(f.blobs, nil).Load(ctx, persistence.KeyThreads, &persisted))
	require.Len(t, persisted, 2)

	require.ErrorIs(t, f.ctrl.SelectThread(ptr("missing")), ErrThreadNotFound)
	require.NoError(t, f.ctrl.DeleteThread(ctx, second.ID))
	require.Nil(t, f.store.Snapshot().SelectedThread)
	require.ErrorIs(t, f.ctrl.DeleteThread(ctx, second.ID), ErrThreadNotFound)

	require.NoError(t, f.ctrl.SelectThread(&first.ID))
	require.NoError(t, f.ctrl.SelectThread(nil))
	require.Nil(t, f.store.Snapshot().SelectedThread)
}

func TestHydrateRestoresSettingsAndThreads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	temp := 0.2
	f.ctrl.UpdateSettings(ctx, chat.SettingsPatch{Temperature: &temp})
	f.ctrl.CreateThread(ctx, "Saved")

	store := session.NewStore(session.NewState(chat.DefaultSettings(), epoch))
	restored := New(Deps{
		Store:       store,
		Gateway:     &stubGateway{resp: okResponse("x")},
		Persistence: persistence.NewAdapter(f.blobs, nil),
	}, DefaultOptions())
	defer restored.Close()
	restored.Hydrate(ctx)

	state := store.Snapshot()
	require.InDelta(t, 0.2, state.Settings.Temperature, 1e-9)
	require.Len(t, state.Threads, 1)
	require.Equal(t, "Saved", state.Threads[0].Title)
}

func TestHydrateKeepsDefaultsForMissingKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	require.NoError(t, f.blobs.Put(ctx, persistence.KeySettings, []byte(`{"temperature":0.2}`)))

	f.ctrl.Hydrate(ctx)

	defaults := chat.DefaultSettings()
	got := f.store.Snapshot().Settings
	require.InDelta(t, 0.2, got.Temperature, 1e-9)
	require.Equal(t, defaults.SelectedModel, got.SelectedModel)
	require.Equal(t, defaults.SystemPrompt, got.SystemPrompt)
	require.Equal(t, defaults.MaxTokens, got.MaxTokens)
	require.Equal(t, defaults.EnableStreaming, got.EnableStreaming)
}

func TestClearResetAndDelete(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("a")}, DefaultOptions())
	require.NoError(t, f.ctrl.SendMessage(context.Background(), "q", nil))
	state := f.store.Snapshot()

	require.NoError(t, f.ctrl.DeleteMessage(state.Messages[1].ID))
	require.ErrorIs(t, f.ctrl.DeleteMessage(state.Messages[1].ID), ErrMessageNotFound)
	require.Len(t, f.store.Snapshot().Messages, 1)

	f.ctrl.ClearChat()
	cleared := f.store.Snapshot()
	require.Empty(t, cleared.Messages)
	require.Equal(t, 2, cleared.Metrics.TotalMessages)

	f.ctrl.ResetSession()
	require.Equal(t, 0, f.store.Snapshot().Metrics.TotalMessages)
}

type fakeTransport struct {
	mu       sync.Mutex
	state    transport.State
	handlers map[string][]func(json.RawMessage)
	stateFns []func(transport.State)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.StateDisconnected, handlers: make(map[string][]func(json.RawMessage))}
}

func (f *fakeTransport) On(event string, handler func(json.RawMessage)) func() {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], handler)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, event)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnState(handler func(transport.State)) func() {
	f.mu.Lock()
	f.stateFns = append(f.stateFns, handler)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) setState(s transport.State) {
	f.mu.Lock()
	f.state = s
	fns := append([]func(transport.State){}, f.stateFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeTransport) emit(event, payload string) {
	f.mu.Lock()
	handlers := append([]func(json.RawMessage){}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(payload))
	}
}

func TestBindTransportMirrorsConnectivityAndStreams(t *testing.T) {
	f := newFixture(t, &stubGateway{resp: okResponse("x")}, DefaultOptions())
	tr := newFakeTransport()
	f.ctrl.BindTransport(tr)
	require.False(t, f.store.Snapshot().IsConnected)

	tr.setState(transport.StateConnected)
	require.True(t, f.store.Snapshot().IsConnected)

	tr.emit("stream:start", `{"messageId":"srv-1"}`)
	tr.emit("stream:data", `{"content":"par"}`)
	tr.emit("stream:data", `{"content":"tial"}`)
	require.Equal(t, "partial", f.store.Snapshot().StreamingBuffer)

	tr.emit("stream:end", `{"metadata":{"model":"remote"}}`)
	tr.emit("stream:end", `{}`)

	state := f.store.Snapshot()
	require.Len(t, state.Messages, 1)
	require.Equal(t, "srv-1", state.Messages[0].ID)
	require.Equal(t, "partial", state.Messages[0].Content)

	tr.emit("stream:start", `{}`)
	tr.emit("stream:data", `{"content":"lost"}`)
	tr.setState(transport.StateDisconnected)
	state = f.store.Snapshot()
	require.False(t, state.IsConnected)
	require.Empty(t, state.StreamingBuffer)
	require.Len(t, state.Messages, 1)
}

func ptr(s string) *string { return &s }
