package bridge

import (
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/chainql/internal/gag"
)

// EvalLoggerName is the logger evaluator backends write diagnostics to.
const EvalLoggerName = "chainql.eval"

var (
	log         = commonlog.GetLogger("chainql.bridge")
	logsEnabled atomic.Bool
)

// EnableLogs lets evaluator diagnostics through during calls.
func EnableLogs() { logsEnabled.Store(true) }

// DisableLogs discards evaluator diagnostics during calls. This is the
// default.
func DisableLogs() { logsEnabled.Store(false) }

// LogsEnabled reports the current setting.
func LogsEnabled() bool { return logsEnabled.Load() }

// suppressLogs silences the evaluator logger and, if gagStdio is set, the
// process's stdout and stderr. The returned function undoes both.
func suppressLogs(gagStdio bool) (func(), error) {
	prev := commonlog.GetMaxLevel(EvalLoggerName)
	commonlog.SetMaxLevel(commonlog.None, EvalLoggerName)

	if !gagStdio {
		return func() { commonlog.SetMaxLevel(prev, EvalLoggerName) }, nil
	}
	ungag, err := gag.Stdio()
	if err != nil {
		commonlog.SetMaxLevel(prev, EvalLoggerName)
		return nil, err
	}
	return func() {
		ungag()
		commonlog.SetMaxLevel(prev, EvalLoggerName)
	}, nil
}
