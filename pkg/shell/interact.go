package shell

import (
	"fmt"
	"io"
	"os"

	"github.com/dosh-shell/dosh/pkg/api"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
	"github.com/dosh-shell/dosh/pkg/parse"
	"github.com/dosh-shell/dosh/pkg/rewrite"
	"github.com/dosh-shell/dosh/pkg/sig"
	"github.com/dosh-shell/dosh/pkg/sys"
)

// InteractConfig keeps configuration for the interactive mode.
type InteractConfig struct {
	Client      dbclient.Client
	DB          string
	HistoryPath string
}

// Session holds the per-session state: the rewriter with its persistent
// binding table, the evaluator with its global environment, and the API
// root installed into it.
type Session struct {
	rewriter  *rewrite.Rewriter
	evaluator *eval.Evaluator
	shell     *api.Shell
	out       io.Writer
}

// NewSession builds a session over the given backend. requestExit is
// invoked when user code asks to leave the shell.
func NewSession(client dbclient.Client, db string, out io.Writer, requestExit func(code int)) *Session {
	catalog := sig.MustLoad()
	s := &Session{
		rewriter:  rewrite.New(catalog),
		evaluator: eval.New(),
		shell:     api.NewShell(client, db, requestExit),
		out:       out,
	}
	eval.InstallSupport(s.evaluator)
	s.shell.Install(s.evaluator)
	return s
}

// Eval rewrites and evaluates one input. Partial parse errors propagate
// unchanged so the loop can classify them as recoverable.
func (s *Session) Eval(src parse.Source, intr <-chan struct{}) (any, error) {
	rewritten, err := s.rewriter.Rewrite(src)
	if err != nil {
		return nil, err
	}
	if rewritten != src.Code {
		logger.Println("rewrote input to:", rewritten)
	}
	return s.evaluator.Eval(
		parse.Source{Name: src.Name, Code: rewritten, IsFile: src.IsFile},
		eval.EvalCfg{Interrupts: intr, Out: s.out})
}

// Interact runs an interactive shell session on the process's standard
// streams. It returns the exit code.
func Interact(fds [3]*os.File, cfg *InteractConfig) int {
	var console Console
	var closeConsole func() error
	if sys.IsATTY(fds[0]) {
		c := NewTermConsole(fds[2], cfg.HistoryPath)
		console, closeConsole = c, c.Close
	} else {
		c := newMinConsole(fds[0], fds[1], fds[2])
		console, closeConsole = c, c.Close
	}
	defer closeConsole()

	exitc := make(chan int, 1)
	var loop *Loop
	sess := NewSession(cfg.Client, cfg.DB, fds[1], func(code int) {
		loop.RequestExit(code)
	})
	loop = NewLoop(sess.Eval, console, LoopOpts{
		OnExitRequested: func(code int) {
			select {
			case exitc <- code:
			default:
			}
		},
	})

	cmdNum := 0
	var buffered string
	for {
		select {
		case code := <-exitc:
			return code
		default:
		}

		line, err := console.ReadLine()
		switch err {
		case nil:
		case ErrReadAborted:
			buffered = ""
			continue
		case io.EOF:
			return 0
		default:
			fmt.Fprintln(fds[2], "console error:", err)
			return 2
		}

		code := line
		if buffered != "" {
			code = buffered + "\n" + line
		}
		if code == "" {
			continue
		}
		cmdNum++

		value, err := loop.Eval(parse.Source{Name: fmt.Sprintf("[dosh %d]", cmdNum), Code: code})
		if parse.IsPartialError(err) {
			// Keep collecting lines; the console already switched to the
			// continuation prompt.
			buffered = code
			continue
		}
		buffered = ""
		if err == nil && value != nil {
			fmt.Fprintln(fds[1], eval.Repr(value))
		}
	}
}
