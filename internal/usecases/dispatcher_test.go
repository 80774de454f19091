package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/server"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/server/mocks"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	directory  domain.SessionDirectory
	calls      atomic.Int32
}

func newDispatcherFixture(t *testing.T, timeout time.Duration, extra ...domain.ToolDefinition) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{directory: server.NewSessionDirectory()}

	registry := server.NewInMemoryToolRegistry()
	registry.MustRegister(domain.ToolDefinition{
		Name:        "echo",
		Description: "Echo the text argument",
		InputSchema: domain.InputSchema{
			Type:       "object",
			Properties: map[string]domain.SchemaProperty{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
		Handler: func(ctx context.Context, args domain.Arguments) ([]domain.ContentBlock, error) {
			f.calls.Add(1)
			return []domain.ContentBlock{domain.TextContent(args.String("text"))}, nil
		},
	})
	registry.MustRegister(extra...)

	service := NewServerService(ServerConfig{
		Name:           "ip-geolocation",
		Version:        "1.0.0",
		Instructions:   "test",
		Registry:       registry,
		HandlerTimeout: timeout,
		Logger:         logging.NewNop(),
	})
	f.dispatcher = NewDispatcher(service, f.directory, WithDispatcherLogger(logging.NewNop()))
	return f
}

func (f *dispatcherFixture) open(t *testing.T, id string) *mocks.MockChannelSession {
	t.Helper()
	s := mocks.NewMockChannelSession(id)
	s.OnClose(f.directory.Remove)
	require.NoError(t, f.directory.Put(s))
	return s
}

func resultOf(t *testing.T, msg domain.Message) *domain.ToolInvocationResult {
	t.Helper()
	result, ok := msg.Data.(*domain.ToolInvocationResult)
	require.True(t, ok, "unexpected message data %T", msg.Data)
	return result
}

func jsonOf(t *testing.T, msg domain.Message) string {
	t.Helper()
	b, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	return string(b)
}

func TestDispatcher_DeliversToOwningSessionOnly(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	a := f.open(t, "a")
	b := f.open(t, "b")

	err := f.dispatcher.HandleInbound(context.Background(), "a", []byte(`{"tool":"echo","arguments":{"text":"hi"}}`))
	require.NoError(t, err)

	require.Len(t, a.GetMessagesSent(), 1)
	assert.Empty(t, b.GetMessagesSent())

	result := resultOf(t, a.GetMessagesSent()[0])
	assert.True(t, result.IsSuccess())
	assert.Equal(t, []domain.ContentBlock{domain.TextContent("hi")}, result.Content)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestDispatcher_UnknownSessionNeverInvokes(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	other := f.open(t, "other")

	for _, id := range []string{"", "missing"} {
		err := f.dispatcher.HandleInbound(context.Background(), id, []byte(`{"tool":"echo","arguments":{"text":"x"}}`))
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, domain.NotFoundSession, nf.What)
	}

	assert.Equal(t, int32(0), f.calls.Load())
	assert.Empty(t, other.GetMessagesSent())
}

func TestDispatcher_ClosedSessionNeverInvokes(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "gone")
	s.Close()

	err := f.dispatcher.HandleInbound(context.Background(), "gone", []byte(`{"tool":"echo","arguments":{"text":"x"}}`))
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatcher_MalformedPayload(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	payloads := []string{
		``,
		`not json`,
		`[1,2]`,
		`{"tool":`,
		`{"arguments":{}}`,
		`{"tool":"echo","arguments":"text"}`,
		`{"tool":42}`,
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1}`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			err := f.dispatcher.HandleInbound(context.Background(), "s", []byte(p))
			require.Error(t, err)
			assert.Equal(t, domain.KindMalformedRequest, domain.KindOf(err))
			assert.Equal(t, 400, domain.StatusCode(err))
		})
	}

	assert.Empty(t, s.GetMessagesSent())
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatcher_UnknownTool(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"tool":"nope","arguments":{}}`)))

	require.Len(t, s.GetMessagesSent(), 1)
	result := resultOf(t, s.GetMessagesSent()[0])
	assert.False(t, result.IsSuccess())
	assert.Equal(t, domain.KindNotFound, result.Error.Kind)
	assert.Equal(t, "unknown tool: nope", result.Error.Message)
}

func TestDispatcher_InvalidArguments(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"tool":"echo","arguments":{"text":5}}`)))

	result := resultOf(t, s.GetMessagesSent()[0])
	assert.Equal(t, domain.KindValidation, result.Error.Kind)
	assert.Contains(t, result.Error.Message, "arguments.text")
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatcher_HandlerFaults(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	f := newDispatcherFixture(t, 50*time.Millisecond,
		domain.ToolDefinition{
			Name: "panics",
			Handler: func(context.Context, domain.Arguments) ([]domain.ContentBlock, error) {
				panic("boom")
			},
		},
		domain.ToolDefinition{
			Name: "fails",
			Handler: func(context.Context, domain.Arguments) ([]domain.ContentBlock, error) {
				return nil, errors.New("upstream exploded")
			},
		},
		domain.ToolDefinition{
			Name: "hangs",
			Handler: func(context.Context, domain.Arguments) ([]domain.ContentBlock, error) {
				<-block
				return nil, nil
			},
		},
	)
	s := f.open(t, "s")

	tests := []struct {
		tool    string
		message string
	}{
		{"panics", "boom"},
		{"fails", "upstream exploded"},
		{"hangs", "did not finish"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			before := len(s.GetMessagesSent())
			require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(fmt.Sprintf(`{"tool":%q}`, tt.tool))))

			msgs := s.GetMessagesSent()
			require.Len(t, msgs, before+1)
			result := resultOf(t, msgs[before])
			assert.Equal(t, domain.KindHandlerFault, result.Error.Kind)
			assert.Contains(t, result.Error.Message, tt.message)

			// The channel keeps working after a fault.
			require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"tool":"echo","arguments":{"text":"ok"}}`)))
			assert.True(t, resultOf(t, s.GetMessagesSent()[before+1]).IsSuccess())
			assert.Equal(t, domain.SessionOpen, s.State())
		})
	}
}

func TestDispatcher_SessionClosedDuringInvocation(t *testing.T) {
	var session *mocks.MockChannelSession
	f := newDispatcherFixture(t, time.Second, domain.ToolDefinition{
		Name: "closes",
		Handler: func(context.Context, domain.Arguments) ([]domain.ContentBlock, error) {
			session.Close()
			return []domain.ContentBlock{domain.TextContent("late")}, nil
		},
	})
	session = f.open(t, "s")

	err := f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"tool":"closes"}`))
	assert.NoError(t, err)
	assert.Empty(t, session.GetMessagesSent())
	assert.Equal(t, 0, f.directory.Count())
}

func TestDispatcher_JSONRPC(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "initialize",
			payload: `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"c","version":"1"}}}`,
			want:    `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"ip-geolocation","version":"1.0.0"},"capabilities":{"tools":{"listChanged":false}},"instructions":"test"}}`,
		},
		{
			name:    "initialize bad params",
			payload: `{"jsonrpc":"2.0","id":7,"method":"initialize","params":["x"]}`,
			want:    `{"jsonrpc":"2.0","id":7,"error":{"code":-32602,"message":"malformed request: invalid params: json: cannot unmarshal array into Go value of type shared.InitializeParams"}}`,
		},
		{
			name:    "ping",
			payload: `{"jsonrpc":"2.0","id":"p","method":"ping"}`,
			want:    `{"jsonrpc":"2.0","id":"p","result":{}}`,
		},
		{
			name:    "tools/list",
			payload: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
			want:    `{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"Echo the text argument","inputSchema":{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}}]}}`,
		},
		{
			name:    "tools/call success",
			payload: `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`,
			want:    `{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hello"}]}}`,
		},
		{
			name:    "tools/call unknown tool",
			payload: `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope"}}`,
			want:    `{"jsonrpc":"2.0","id":4,"result":{"content":[{"type":"text","text":"unknown tool: nope"}],"isError":true}}`,
		},
		{
			name:    "tools/call bad params",
			payload: `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"arguments":{}}}`,
			want:    `{"jsonrpc":"2.0","id":5,"error":{"code":-32602,"message":"malformed request: missing tool name"}}`,
		},
		{
			name:    "unknown method",
			payload: `{"jsonrpc":"2.0","id":6,"method":"resources/list"}`,
			want:    `{"jsonrpc":"2.0","id":6,"error":{"code":-32601,"message":"Method not found: resources/list"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(s.GetMessagesSent())
			require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(tt.payload)))
			msgs := s.GetMessagesSent()
			require.Len(t, msgs, before+1)
			assert.JSONEq(t, tt.want, jsonOf(t, msgs[before]))
		})
	}
}

func TestDispatcher_NotificationsProduceNothing(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Empty(t, s.GetMessagesSent())
}

func TestDispatcher_LogsInitializeHandshake(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	core, logs := observer.New(zapcore.DebugLevel)
	f.dispatcher = NewDispatcher(f.dispatcher.service, f.directory,
		WithDispatcherLogger(logging.NewFromZap(zap.New(core))))
	s := f.open(t, "s")

	require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s",
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"inspector","version":"0.9"}}}`)))
	require.NoError(t, f.dispatcher.HandleInbound(context.Background(), "s",
		[]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))

	assert.Len(t, s.GetMessagesSent(), 1)

	initializing := logs.FilterMessage("client initializing").All()
	require.Len(t, initializing, 1)
	assert.Equal(t, "inspector", initializing[0].ContextMap()["client"])
	assert.Equal(t, "2024-11-05", initializing[0].ContextMap()["protocol_version"])
	assert.Equal(t, 1, logs.FilterMessage("client initialized").Len())
}

func TestDispatcher_DispatchConcurrentSessions(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	a := f.open(t, "a")
	b := f.open(t, "b")

	const perSession = 50
	var wg sync.WaitGroup
	for i := 0; i < perSession; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				payload := fmt.Sprintf(`{"tool":"echo","arguments":{"text":"%s-%d"}}`, id, i)
				assert.NoError(t, f.dispatcher.Dispatch(context.Background(), id, []byte(payload)))
			}(id, i)
		}
	}
	wg.Wait()
	f.dispatcher.Wait()

	for _, s := range []*mocks.MockChannelSession{a, b} {
		msgs := s.GetMessagesSent()
		require.Len(t, msgs, perSession)
		seen := map[string]bool{}
		for _, m := range msgs {
			text := resultOf(t, m).Content[0].Text
			assert.Regexp(t, "^"+s.ID()+"-", text)
			seen[text] = true
		}
		assert.Len(t, seen, perSession)
	}
}

func TestDispatcher_DispatchSurvivesCancelledRequest(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.dispatcher.Dispatch(ctx, "s", []byte(`{"tool":"echo","arguments":{"text":"x"}}`)))
	cancel()
	f.dispatcher.Wait()

	require.Len(t, s.GetMessagesSent(), 1)
	assert.True(t, resultOf(t, s.GetMessagesSent()[0]).IsSuccess())
}

func TestDispatcher_DispatchRejectsSynchronously(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	f.open(t, "s")

	err := f.dispatcher.Dispatch(context.Background(), "missing", []byte(`{"tool":"echo"}`))
	assert.True(t, domain.IsNotFound(err))

	err = f.dispatcher.Dispatch(context.Background(), "s", []byte(`{`))
	assert.Equal(t, domain.KindMalformedRequest, domain.KindOf(err))

	f.dispatcher.Wait()
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatcher_SendErrorIsReturned(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")
	s.SetSendError(errors.New("queue wedged"))

	err := f.dispatcher.HandleInbound(context.Background(), "s", []byte(`{"tool":"echo","arguments":{"text":"x"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue wedged")
	assert.Equal(t, 0, s.CloseCalls())
}

func TestDispatcher_DispatchDeliversAsync(t *testing.T) {
	f := newDispatcherFixture(t, time.Second)
	s := f.open(t, "s")

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), "s", []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	s.WaitForMessageCount(1)

	require.Len(t, s.GetMessagesSent(), 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, jsonOf(t, s.GetMessagesSent()[0]))
	f.dispatcher.Wait()
}
