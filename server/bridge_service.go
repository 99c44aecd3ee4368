package server

import (
	"context"
	"fmt"
	"math"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/chainql/bridge"
)

// ServiceName is the fully qualified name of the bridge service.
const ServiceName = "chainql.v1.BridgeService"

// Procedure paths. Requests and responses are google.protobuf.Struct
// messages, so the service is reachable with the Connect JSON protocol
// without generated stubs.
const (
	EvaluateProcedure       = "/" + ServiceName + "/Evaluate"
	LookupProcedure         = "/" + ServiceName + "/Lookup"
	KeysProcedure           = "/" + ServiceName + "/Keys"
	CallProcedure           = "/" + ServiceName + "/Call"
	ManifestProcedure       = "/" + ServiceName + "/Manifest"
	ReleaseProcedure        = "/" + ServiceName + "/Release"
	CreateSessionProcedure  = "/" + ServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + ServiceName + "/DestroySession"
)

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// BridgeService exposes a dispatcher's evaluator over Connect. Lazy results
// are returned as handles that later requests can read, call or release.
type BridgeService struct {
	disp     *bridge.Dispatcher
	handles  *HandleStore
	sessions *SessionStore
}

// NewBridgeService creates a BridgeService.
func NewBridgeService(disp *bridge.Dispatcher, handles *HandleStore, sessions *SessionStore) *BridgeService {
	return &BridgeService{
		disp:     disp,
		handles:  handles,
		sessions: sessions,
	}
}

// Evaluate evaluates an expression.
//
//	{"expr": "a + 1", "args": {"a": 41}, "session": "s-1"}
func (s *BridgeService) Evaluate(ctx context.Context, req *request) (*response, error) {
	expr := str(req.Msg, "expr")
	if expr == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("expr is required"))
	}
	session, err := s.session(req.Msg)
	if err != nil {
		return nil, err
	}
	args, err := s.argsFromWire(req.Msg)
	if err != nil {
		return nil, connectError(err)
	}

	v, err := s.disp.Evaluate(ctx, expr, session.mergeArgs(args))
	if err != nil {
		return nil, connectError(err)
	}
	return s.respond(v, session)
}

// Lookup reads one field of an object handle or one element of an array
// handle.
//
//	{"handle": "h-1", "key": "a"}
//	{"handle": "h-2", "index": 0}
func (s *BridgeService) Lookup(ctx context.Context, req *request) (*response, error) {
	target, err := s.resolveField(req.Msg)
	if err != nil {
		return nil, err
	}
	fields := req.Msg.GetFields()

	var v any
	switch h := target.(type) {
	case *bridge.Object:
		key, ok := fields["key"]
		if !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("key is required for object handles"))
		}
		hk, err := s.fromWire(key)
		if err != nil {
			return nil, connectError(err)
		}
		v, err = h.Get(ctx, hk)
		if err != nil {
			return nil, connectError(err)
		}
	case *bridge.Array:
		idx, ok := fields["index"]
		if !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("index is required for array handles"))
		}
		v, err = h.Index(ctx, wireIndex(idx))
		if err != nil {
			return nil, connectError(err)
		}
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is a %s", handleKind(target)))
	}
	return s.respond(v, s.sessionOf(req.Msg))
}

// Keys lists the fields of an object handle in declaration order.
//
//	{"handle": "h-1", "include_hidden": true}
func (s *BridgeService) Keys(ctx context.Context, req *request) (*response, error) {
	target, err := s.resolveField(req.Msg)
	if err != nil {
		return nil, err
	}
	obj, ok := target.(*bridge.Object)
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is a %s, not an object", handleKind(target)))
	}

	keys := []any{}
	it := obj.Keys(req.Msg.GetFields()["include_hidden"].GetBoolValue())
	for it.Next(ctx) {
		keys = append(keys, it.Key())
	}
	if err := it.Err(); err != nil {
		return nil, connectError(err)
	}
	return structResponse(map[string]any{"keys": keys})
}

// Call invokes a function handle with positional arguments.
//
//	{"handle": "h-4", "args": [1, 2]}
func (s *BridgeService) Call(ctx context.Context, req *request) (*response, error) {
	target, err := s.resolveField(req.Msg)
	if err != nil {
		return nil, err
	}
	fn, ok := target.(*bridge.Function)
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is a %s, not a function", handleKind(target)))
	}

	var args []any
	for _, el := range req.Msg.GetFields()["args"].GetListValue().GetValues() {
		hv, err := s.fromWire(el)
		if err != nil {
			return nil, connectError(err)
		}
		args = append(args, hv)
	}
	v, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, connectError(err)
	}
	return s.respond(v, s.sessionOf(req.Msg))
}

// Manifest renders an object or array handle as JSON.
//
//	{"handle": "h-1", "minified": true}
func (s *BridgeService) Manifest(ctx context.Context, req *request) (*response, error) {
	target, err := s.resolveField(req.Msg)
	if err != nil {
		return nil, err
	}
	minified := req.Msg.GetFields()["minified"].GetBoolValue()

	var out string
	switch h := target.(type) {
	case *bridge.Object:
		out, err = h.ManifestJSON(ctx, minified)
	case *bridge.Array:
		out, err = h.ManifestJSON(ctx, minified)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("cannot manifest a %s", handleKind(target)))
	}
	if err != nil {
		return nil, connectError(err)
	}
	return structResponse(map[string]any{"json": out})
}

// Release drops a handle.
func (s *BridgeService) Release(ctx context.Context, req *request) (*response, error) {
	id := str(req.Msg, "handle")
	return structResponse(map[string]any{"released": s.handles.Release(id)})
}

// CreateSession starts a session whose args apply to every evaluation made
// in it.
func (s *BridgeService) CreateSession(ctx context.Context, req *request) (*response, error) {
	args, err := s.argsFromWire(req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	session := s.sessions.Create(str(req.Msg, "name"), args)
	return structResponse(map[string]any{"session": session.ID})
}

// DestroySession ends a session and releases its handles.
func (s *BridgeService) DestroySession(ctx context.Context, req *request) (*response, error) {
	id := str(req.Msg, "session")
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return structResponse(map[string]any{})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *BridgeService) respond(v any, session *Session) (*response, error) {
	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}
	out, err := s.result(v, sessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (s *BridgeService) resolveField(msg *structpb.Struct) (any, error) {
	id := str(msg, "handle")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	return s.resolve(id)
}

func (s *BridgeService) resolve(id string) (any, error) {
	v, ok := s.handles.Lookup(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", id))
	}
	return v, nil
}

func (s *BridgeService) session(msg *structpb.Struct) (*Session, error) {
	id := str(msg, "session")
	if id == "" {
		return nil, nil
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// sessionOf is session for requests where an unknown session is not an
// error.
func (s *BridgeService) sessionOf(msg *structpb.Struct) *Session {
	session, _ := s.session(msg)
	return session
}

func str(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}

// wireIndex turns a JSON number into a Go int when it is integral, so the
// array adapter can reject everything else with its own type error.
func wireIndex(v *structpb.Value) any {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return v.AsInterface()
	}
	f := n.NumberValue
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return int(f)
	}
	return f
}

func structResponse(fields map[string]any) (*response, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}
