package server

import (
	"errors"
	"fmt"
	"math/big"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/chainql/bridge"
)

// handleKey marks a wire object that refers to a stored handle:
// {"$handle": "h-3"}.
const handleKey = "$handle"

// fromWire converts a request value to a host value, resolving handle
// references.
func (s *BridgeService) fromWire(v *structpb.Value) (any, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, el := range vals {
			hv, err := s.fromWire(el)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case *structpb.Value_StructValue:
		return s.structFromWire(k.StructValue)
	}
	return nil, fmt.Errorf("unsupported wire value %T", v.GetKind())
}

func (s *BridgeService) structFromWire(st *structpb.Struct) (any, error) {
	fields := st.GetFields()
	if ref, ok := fields[handleKey]; ok && len(fields) == 1 {
		return s.resolve(ref.GetStringValue())
	}
	out := make(map[string]any, len(fields))
	for k, el := range fields {
		hv, err := s.fromWire(el)
		if err != nil {
			return nil, err
		}
		out[k] = hv
	}
	return out, nil
}

// argsFromWire reads the "args" struct of a request.
func (s *BridgeService) argsFromWire(msg *structpb.Struct) (map[string]any, error) {
	st := msg.GetFields()["args"].GetStructValue()
	if st == nil {
		return nil, nil
	}
	args := make(map[string]any, len(st.GetFields()))
	for k, el := range st.GetFields() {
		hv, err := s.fromWire(el)
		if err != nil {
			return nil, err
		}
		args[k] = hv
	}
	return args, nil
}

// result encodes a host value as {kind, value} for scalars and
// {kind, handle} for lazy values, which are stored in the handle store.
func (s *BridgeService) result(v any, sessionID string) (*structpb.Struct, error) {
	fields := map[string]any{}
	switch x := v.(type) {
	case nil:
		fields["kind"], fields["value"] = "null", nil
	case bool:
		fields["kind"], fields["value"] = "boolean", x
	case float64:
		fields["kind"], fields["value"] = "number", x
	case *big.Int:
		fields["kind"], fields["value"] = "bigint", x.String()
	case string:
		fields["kind"], fields["value"] = "string", x
	case *bridge.Object, *bridge.Array, *bridge.Function:
		id := s.handles.Create(x, sessionID)
		fields["kind"], fields["handle"] = handleKind(x), id
	default:
		return nil, fmt.Errorf("cannot encode %T", v)
	}
	return structpb.NewStruct(fields)
}

// connectError maps bridge error kinds to connect codes.
func connectError(err error) *connect.Error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	code := connect.CodeUnknown
	switch bridge.KindOf(err) {
	case bridge.TypeError:
		code = connect.CodeInvalidArgument
	case bridge.KeyNotFound, bridge.IndexOutOfRange:
		code = connect.CodeNotFound
	case bridge.Interrupted:
		code = connect.CodeCanceled
	case bridge.EvalRuntimeError:
		code = connect.CodeFailedPrecondition
	case bridge.WorkerFault:
		code = connect.CodeInternal
	case bridge.SetupFault:
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}
