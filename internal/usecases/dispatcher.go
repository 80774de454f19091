package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain/shared"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/metrics"
)

// Inbound is a postback that passed session resolution and parsing.
type Inbound struct {
	Session domain.ChannelSession
	// Exactly one of RPC and Call is set.
	RPC  *domain.JSONRPCRequest
	Call *domain.ToolInvocationRequest
}

// Dispatcher routes postbacks to tools and pushes the results down the
// session they arrived for.
type Dispatcher struct {
	service   *ServerService
	directory domain.SessionDirectory
	logger    *logging.Logger
	metrics   *metrics.Recorder
	inflight  sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics sets the metrics recorder.
func WithDispatcherMetrics(m *metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher over service and directory.
func NewDispatcher(service *ServerService, directory domain.SessionDirectory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		service:   service,
		directory: directory,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleInbound resolves the session, parses payload, runs the tool and
// delivers the result before returning. Resolution and parse failures are
// returned; everything after that ends up on the channel.
func (d *Dispatcher) HandleInbound(ctx context.Context, sessionID string, payload []byte) error {
	in, err := d.Prepare(sessionID, payload)
	if err != nil {
		return err
	}
	return d.Execute(ctx, in)
}

// Dispatch validates the postback synchronously and executes it in the
// background. The background work outlives ctx cancellation but keeps its
// values.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, payload []byte) error {
	in, err := d.Prepare(sessionID, payload)
	if err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.Execute(bg, in); err != nil {
			d.logger.Error("failed to deliver result", logging.Fields{
				"session_id": in.Session.ID(),
				"error":      err,
			})
		}
	}()
	return nil
}

// Wait blocks until every dispatched postback has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Prepare resolves the session and parses payload.
func (d *Dispatcher) Prepare(sessionID string, payload []byte) (*Inbound, error) {
	if sessionID == "" {
		return nil, domain.NewSessionNotFoundError(sessionID)
	}
	session, err := d.directory.Get(sessionID)
	if err != nil {
		return nil, err
	}

	in := &Inbound{Session: session}
	if in.RPC, in.Call, err = parsePayload(payload); err != nil {
		return nil, err
	}
	return in, nil
}

// envelope is used to tell the two accepted payload shapes apart.
type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Tool    string `json:"tool"`
}

func parsePayload(payload []byte) (*domain.JSONRPCRequest, *domain.ToolInvocationRequest, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil, domain.NewMalformedRequestError("empty body", nil)
	}
	if payload[0] != '{' {
		return nil, nil, domain.NewMalformedRequestError("expected a JSON object", nil)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, domain.NewMalformedRequestError("invalid JSON", err)
	}

	if env.JSONRPC != "" || env.Method != "" {
		var req domain.JSONRPCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, nil, domain.NewMalformedRequestError("invalid JSON-RPC message", err)
		}
		if req.JSONRPC != shared.JSONRPCVersion {
			return nil, nil, domain.NewMalformedRequestError("unsupported jsonrpc version "+req.JSONRPC, nil)
		}
		if req.Method == "" {
			return nil, nil, domain.NewMalformedRequestError("missing method", nil)
		}
		return &req, nil, nil
	}

	if env.Tool == "" {
		return nil, nil, domain.NewMalformedRequestError("missing tool name", nil)
	}
	var call domain.ToolInvocationRequest
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, nil, domain.NewMalformedRequestError("invalid arguments", err)
	}
	return nil, &call, nil
}

// Execute runs a prepared postback and sends its outcome on the session.
// A session that closed in the meantime is not an error: the result is
// logged and dropped.
func (d *Dispatcher) Execute(ctx context.Context, in *Inbound) error {
	var data interface{}
	switch {
	case in.Call != nil:
		data = d.service.InvokeTool(ctx, *in.Call)
	case in.RPC != nil:
		resp := d.handleRPC(ctx, in.RPC)
		if resp == nil {
			return nil
		}
		data = resp
	default:
		return nil
	}

	err := in.Session.Send(ctx, domain.Message{Data: data})
	if err == nil {
		return nil
	}
	if domain.IsSessionClosed(err) {
		d.metrics.Undelivered()
		d.logger.Warn("result undelivered, session closed", logging.Fields{
			"session_id": in.Session.ID(),
		})
		return nil
	}
	return err
}

func (d *Dispatcher) handleRPC(ctx context.Context, req *domain.JSONRPCRequest) *domain.JSONRPCResponse {
	if req.IsNotification() {
		if req.Method == shared.MethodInitialized {
			d.logger.Info("client initialized")
		} else {
			d.logger.Debug("notification received", logging.Fields{"method": req.Method})
		}
		return nil
	}

	var resp domain.JSONRPCResponse
	switch req.Method {
	case shared.MethodInitialize:
		var params shared.InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp = domain.CreateErrorResponse(shared.JSONRPCVersion, req.ID, int(shared.InvalidParams),
					domain.NewMalformedRequestError("invalid params", err).Error())
				break
			}
		}
		d.logger.Info("client initializing", logging.Fields{
			"client":           params.ClientInfo.Name,
			"client_version":   params.ClientInfo.Version,
			"protocol_version": params.ProtocolVersion,
		})
		name, version, instructions := d.service.ServerInfo()
		resp = domain.CreateResponse(shared.JSONRPCVersion, req.ID, shared.InitializeResult{
			ProtocolVersion: shared.ProtocolVersion,
			ServerInfo:      shared.ServerInfo{Name: name, Version: version},
			Capabilities:    shared.Capabilities{Tools: &shared.ToolsCapability{}},
			Instructions:    instructions,
		})
	case shared.MethodPing:
		resp = domain.CreateResponse(shared.JSONRPCVersion, req.ID, struct{}{})
	case shared.MethodListTools:
		resp = domain.CreateResponse(shared.JSONRPCVersion, req.ID, shared.ListToolsResult{
			Tools: d.service.ListTools(),
		})
	case shared.MethodCallTool:
		call, err := parseCallParams(req.Params)
		if err != nil {
			resp = domain.CreateErrorResponse(shared.JSONRPCVersion, req.ID, int(shared.InvalidParams), err.Error())
			break
		}
		result := d.service.InvokeTool(ctx, call)
		resp = domain.CreateResponse(shared.JSONRPCVersion, req.ID, shared.NewCallToolResult(result))
	default:
		resp = domain.CreateErrorResponse(shared.JSONRPCVersion, req.ID, int(shared.MethodNotFound),
			shared.ErrorMessage(shared.MethodNotFound)+": "+req.Method)
	}
	return &resp
}

func parseCallParams(raw json.RawMessage) (domain.ToolInvocationRequest, error) {
	var params shared.CallToolParams
	if len(raw) == 0 {
		return domain.ToolInvocationRequest{}, domain.NewMalformedRequestError("missing params", nil)
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return domain.ToolInvocationRequest{}, domain.NewMalformedRequestError("invalid params", err)
	}
	if params.Name == "" {
		return domain.ToolInvocationRequest{}, domain.NewMalformedRequestError("missing tool name", nil)
	}

	req := domain.ToolInvocationRequest{ToolName: params.Name}
	if args := bytes.TrimSpace(params.Arguments); len(args) > 0 && !bytes.Equal(args, []byte("null")) {
		if err := json.Unmarshal(args, &req.Arguments); err != nil {
			return domain.ToolInvocationRequest{}, domain.NewMalformedRequestError("arguments must be an object", err)
		}
	}
	return req, nil
}
