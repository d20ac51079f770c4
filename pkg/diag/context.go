package diag

import (
	"fmt"
	"strings"
)

// Context is a range of text in a piece of source code. It is used to point
// errors and traceback entries back at the exact input that caused them.
type Context struct {
	Name   string
	Source string
	Ranging

	culprit culprit
	shown   bool
}

// NewContext creates a new Context.
func NewContext(name, source string, r Ranger) *Context {
	return &Context{Name: name, Source: source, Ranging: r.Range()}
}

// The part of the source that an error is about, along with the rest of the
// lines it sits on.
type culprit struct {
	head      string // before the culprit on the first line
	body      string // the culprit itself, trailing newline stripped
	tail      string // after the culprit on the last line
	beginLine int    // 1-based
	endLine   int    // 1-based
}

func (c *Context) split() culprit {
	if c.shown {
		return c.culprit
	}
	before := c.Source[:c.From]
	body := c.Source[c.From:c.To]
	after := c.Source[c.To:]

	var tail string
	if strings.HasSuffix(body, "\n") {
		body = body[:len(body)-1]
	} else {
		tail, _, _ = strings.Cut(after, "\n")
	}
	head := before
	if i := strings.LastIndexByte(before, '\n'); i >= 0 {
		head = before[i+1:]
	}
	beginLine := strings.Count(before, "\n") + 1

	c.culprit = culprit{head, body, tail, beginLine, beginLine + strings.Count(body, "\n")}
	c.shown = true
	return c.culprit
}

// Show renders the context with the description on its own line.
func (c *Context) Show(indent string) string {
	if err := c.checkPosition(); err != nil {
		return err.Error()
	}
	return c.describe() + "\n" + indent + "  " + c.showSource(indent+"  ")
}

// ShowCompact renders the context with the source excerpt on the same line as
// the description.
func (c *Context) ShowCompact(indent string) string {
	if err := c.checkPosition(); err != nil {
		return err.Error()
	}
	desc := c.describe() + " "
	// Keep continuation lines aligned with the excerpt.
	contIndent := strings.Repeat(" ", len(desc))
	return desc + c.showSource(indent+contIndent)
}

func (c *Context) checkPosition() error {
	if c.From == -1 {
		return fmt.Errorf("%s, unknown position", c.Name)
	} else if c.From < 0 || c.To > len(c.Source) || c.From > c.To {
		return fmt.Errorf("%s, invalid position %d-%d", c.Name, c.From, c.To)
	}
	return nil
}

func (c *Context) describe() string {
	cu := c.split()
	if cu.beginLine == cu.endLine {
		return fmt.Sprintf("%s, line %d:", c.Name, cu.beginLine)
	}
	return fmt.Sprintf("%s, line %d-%d:", c.Name, cu.beginLine, cu.endLine)
}

var (
	culpritBegin       = "\033[1;4m"
	culpritEnd         = "\033[m"
	culpritPlaceholder = "^"
)

func (c *Context) showSource(indent string) string {
	cu := c.split()
	var sb strings.Builder
	sb.WriteString(cu.head)
	if cu.body == "" {
		sb.WriteString(culpritBegin + culpritPlaceholder + culpritEnd)
	} else {
		for i, line := range strings.Split(cu.body, "\n") {
			if i > 0 {
				sb.WriteString("\n" + indent)
			}
			sb.WriteString(culpritBegin + line + culpritEnd)
		}
	}
	sb.WriteString(cu.tail)
	return sb.String()
}
