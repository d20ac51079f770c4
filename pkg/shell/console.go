package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"

	"github.com/dosh-shell/dosh/pkg/diag"
	"github.com/dosh-shell/dosh/pkg/sys"
)

// ErrReadAborted is returned by ReadLine when the user aborts the line
// being typed (Ctrl-C at the prompt).
var ErrReadAborted = errors.New("read aborted")

// Console is the terminal collaborator of the evaluation loop: it owns the
// prompt, reads input, reports errors, and surfaces interrupts as a
// channel the loop can race evaluations against.
type Console interface {
	Prompt() string
	SetPrompt(prompt string)
	// ReadLine reads one line, without the trailing newline. It returns
	// io.EOF on end of input and ErrReadAborted when the user abandons the
	// line.
	ReadLine() (string, error)
	// Interrupts receives an element each time the user interrupts while no
	// line read is in progress (during evaluation).
	Interrupts() <-chan struct{}
	// NeedMoreInput tells the console the last input was incomplete, so the
	// next read should present a continuation prompt.
	NeedMoreInput()
	ReportError(err error)
}

// TermConsole is the interactive console, with line editing and history.
type TermConsole struct {
	line        *liner.State
	err         io.Writer
	prompt      string
	needMore    bool
	historyPath string

	intr     <-chan struct{}
	stopIntr func()
}

// NewTermConsole creates a console on the process terminal. historyPath
// may be empty to disable persistent history.
func NewTermConsole(errOut io.Writer, historyPath string) *TermConsole {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	intr, stopIntr := sys.NotifyInterrupts()
	return &TermConsole{
		line: line, err: errOut, prompt: "> ",
		historyPath: historyPath, intr: intr, stopIntr: stopIntr,
	}
}

// Close restores the terminal and persists history.
func (c *TermConsole) Close() error {
	c.stopIntr()
	if c.historyPath != "" {
		if f, err := os.Create(c.historyPath); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		} else {
			logger.Println("cannot write history:", err)
		}
	}
	return c.line.Close()
}

func (c *TermConsole) Prompt() string          { return c.prompt }
func (c *TermConsole) SetPrompt(prompt string) { c.prompt = prompt }

func (c *TermConsole) ReadLine() (string, error) {
	prompt := c.prompt
	if c.needMore {
		prompt = "... "
		c.needMore = false
	}
	s, err := c.line.Prompt(prompt)
	switch err {
	case nil:
		if s != "" {
			c.line.AppendHistory(s)
		}
		return s, nil
	case liner.ErrPromptAborted:
		return "", ErrReadAborted
	case io.EOF:
		return "", io.EOF
	default:
		return "", err
	}
}

func (c *TermConsole) Interrupts() <-chan struct{} { return c.intr }

func (c *TermConsole) NeedMoreInput() { c.needMore = true }

func (c *TermConsole) ReportError(err error) {
	diag.ShowError(c.err, err)
}

// minConsole is the fallback when stdin is not a terminal: plain buffered
// reads, prompts still printed so piped transcripts read naturally.
type minConsole struct {
	in       *bufio.Reader
	out      io.Writer
	errOut   io.Writer
	prompt   string
	needMore bool

	intr     <-chan struct{}
	stopIntr func()
}

func newMinConsole(in io.Reader, out, errOut io.Writer) *minConsole {
	intr, stopIntr := sys.NotifyInterrupts()
	return &minConsole{
		in: bufio.NewReader(in), out: out, errOut: errOut,
		prompt: "> ", intr: intr, stopIntr: stopIntr,
	}
}

func (c *minConsole) Close() error {
	c.stopIntr()
	return nil
}

func (c *minConsole) Prompt() string          { return c.prompt }
func (c *minConsole) SetPrompt(prompt string) { c.prompt = prompt }

func (c *minConsole) ReadLine() (string, error) {
	prompt := c.prompt
	if c.needMore {
		prompt = "... "
		c.needMore = false
	}
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", err
	}
	return line[:len(line)-1], nil
}

func (c *minConsole) Interrupts() <-chan struct{} { return c.intr }

func (c *minConsole) NeedMoreInput() { c.needMore = true }

func (c *minConsole) ReportError(err error) {
	diag.ShowError(c.errOut, err)
}
