package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/chainql/bridge"
	"github.com/chazu/chainql/eval/cueeval"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Every test gets its own BridgeServer behind an httptest server and talks to
// it with real Connect clients. Calls are still serialized process-wide by the
// bridge, so tests in this package do not run in parallel.
// ---------------------------------------------------------------------------

type testEnv struct {
	Server *BridgeServer
	URL    string
	t      *testing.T
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := New(bridge.New(cueeval.New()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return &testEnv{Server: srv, URL: ts.URL, t: t}
}

// call invokes procedure with fields as the request message.
func (e *testEnv) call(procedure string, fields map[string]any) (*structpb.Struct, error) {
	e.t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		e.t.Fatalf("building request: %v", err)
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, e.URL+procedure)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// mustCall is call for requests expected to succeed.
func (e *testEnv) mustCall(procedure string, fields map[string]any) map[string]any {
	e.t.Helper()
	res, err := e.call(procedure, fields)
	if err != nil {
		e.t.Fatalf("%s failed: %v", procedure, err)
	}
	return res.AsMap()
}

// wantCode asserts err is a connect error with the given code.
func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got success", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Errorf("code = %s, want %s (err: %v)", got, code, err)
	}
}
