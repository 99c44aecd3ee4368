package cueeval

import (
	"context"

	"cuelang.org/go/cue"

	"github.com/chazu/chainql/eval"
	"github.com/chazu/chainql/internal/asyncrt"
)

// fetch resolves a @fetch field. The first attribute argument is the URL; an
// optional body=... argument is sent with the request. The response must be
// JSON or CUE and is unified with the declared value.
func (e *Evaluator) fetch(ctx context.Context, v cue.Value, attr cue.Attribute) (cue.Value, error) {
	url, err := attr.String(0)
	if err != nil {
		return cue.Value{}, eval.Errorf("%s: bad @fetch attribute: %v", v.Path(), err)
	}
	var body []byte
	if b, ok, err := attr.Lookup(1, "body"); err == nil && ok {
		body = []byte(b)
	}

	rt, ok := asyncrt.FromContext(ctx)
	if !ok {
		return cue.Value{}, eval.Errorf("%s: cannot fetch %s outside a bridge call", v.Path(), url)
	}
	log.Debugf("fetching %s for %s", url, v.Path())
	data, err := rt.Request(ctx, url, body)
	if err != nil {
		if cerr := eval.Checkpoint(ctx); cerr != nil {
			return cue.Value{}, cerr
		}
		return cue.Value{}, eval.Errorf("fetching %s: %v", url, err)
	}

	fetched := e.ctx.CompileBytes(data, cue.Filename(url))
	if err := fetched.Err(); err != nil {
		return cue.Value{}, eval.Errorf("decoding %s: %v", url, err)
	}
	unified := v.Unify(fetched)
	if err := unified.Err(); err != nil {
		return cue.Value{}, eval.Errorf("%s: fetched data does not match: %v", v.Path(), err)
	}
	return unified, nil
}
