// Command dosh is an interactive shell for a document database.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/dbclient/docstore"
	"github.com/dosh-shell/dosh/pkg/dbclient/remote"
	"github.com/dosh-shell/dosh/pkg/logutil"
	"github.com/dosh-shell/dosh/pkg/shell"
)

var version = "0.1.0"

var flags struct {
	storePath string
	remote    string
	db        string
	history   string
	logPath   string
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dosh",
		Short:         "An interactive shell for a document database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client dbclient.Client) int {
				return shell.Interact(stdFds(), &shell.InteractConfig{
					Client:      client,
					DB:          flags.db,
					HistoryPath: flags.history,
				})
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.storePath, "store", defaultPath("dosh.db"), "path of the embedded store file")
	pf.StringVar(&flags.remote, "remote", "", "address of a remote server (TCP or unix socket)")
	pf.StringVar(&flags.db, "db", "test", "database to start in")
	pf.StringVar(&flags.history, "history", defaultPath("dosh_history"), "path of the history file")
	pf.StringVar(&flags.logPath, "log", "", "path to write debug logs to")

	root.AddCommand(runCmd(), versionCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script>",
		Short: "Run a script file non-interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client dbclient.Client) int {
				return shell.Script(stdFds(), args[0], &shell.ScriptConfig{
					Client: client,
					DB:     flags.db,
				})
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dosh", version)
		},
	}
}

// exitError smuggles the exit code through cobra's error return.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func withClient(f func(dbclient.Client) int) error {
	if flags.logPath != "" {
		if err := logutil.SetOutputFile(flags.logPath); err != nil {
			fmt.Fprintln(os.Stderr, "cannot open log file:", err)
		}
	}

	var client dbclient.Client
	var err error
	if flags.remote != "" {
		client, err = remote.Dial(flags.remote)
	} else {
		client, err = docstore.Open(flags.storePath)
	}
	if err != nil {
		return err
	}
	defer client.Close()

	if code := f(client); code != 0 {
		return exitError(code)
	}
	return nil
}

func stdFds() [3]*os.File {
	return [3]*os.File{os.Stdin, os.Stdout, os.Stderr}
}

func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, "."+name)
}

func main() {
	root := rootCmd()
	if err := root.Execute(); err != nil {
		if code, ok := err.(exitError); ok {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "dosh:", err)
		os.Exit(2)
	}
}
