package shell

import (
	"fmt"
	"os"

	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/diag"
	"github.com/dosh-shell/dosh/pkg/parse"
	"github.com/dosh-shell/dosh/pkg/sys"
)

// ScriptConfig keeps configuration for the script mode.
type ScriptConfig struct {
	Client dbclient.Client
	DB     string
}

// Script runs a script file through the same rewrite pipeline as
// interactive input and returns the exit code. A partial parse error is
// fatal here: there is no more input coming.
func Script(fds [3]*os.File, path string, cfg *ScriptConfig) int {
	code, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(fds[2], "cannot read script:", err)
		return 2
	}

	exitCode := 0
	exited := false
	sess := NewSession(cfg.Client, cfg.DB, fds[1], func(c int) {
		exitCode, exited = c, true
	})

	intr, stopIntr := sys.NotifyInterrupts()
	defer stopIntr()

	_, err = sess.Eval(parse.Source{Name: path, Code: string(code), IsFile: true}, intr)
	if err != nil {
		diag.ShowError(fds[2], err)
		if !exited {
			return 2
		}
	}
	return exitCode
}
