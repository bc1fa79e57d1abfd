package shell

import (
	"fmt"
	"sort"
	"strings"
)

// MetaCommand is one slash command handled by the shell itself, never sent
// to the model.
type MetaCommand struct {
	Name    string
	Aliases []string
	Help    string
	Run     func(s *Shell, args []string) error
}

// metaCommands is the static command table. Lookup covers names and
// aliases; there is no prefix matching.
func metaCommands() []MetaCommand {
	return []MetaCommand{
		{
			Name:    "help",
			Aliases: []string{"h", "?"},
			Help:    "Show available commands.",
			Run:     (*Shell).cmdHelp,
		},
		{
			Name: "version",
			Help: "Show the kestrel version.",
			Run:  (*Shell).cmdVersion,
		},
		{
			Name:    "clear",
			Aliases: []string{"reset"},
			Help:    "Clear the conversation history of this session.",
			Run:     (*Shell).cmdClear,
		},
		{
			Name: "compact",
			Help: "Compact old history into a summary to free context.",
			Run:  (*Shell).cmdCompact,
		},
		{
			Name:    "sessions",
			Aliases: []string{"resume"},
			Help:    "List sessions in this directory; /sessions <id> switches.",
			Run:     (*Shell).cmdSessions,
		},
		{
			Name: "yolo",
			Help: "Toggle auto-approval of tool actions.",
			Run:  (*Shell).cmdYolo,
		},
		{
			Name:    "exit",
			Aliases: []string{"quit"},
			Help:    "Exit kestrel.",
			Run:     (*Shell).cmdExit,
		},
	}
}

func lookupMeta(name string) (MetaCommand, bool) {
	for _, cmd := range metaCommands() {
		if cmd.Name == name {
			return cmd, true
		}
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return MetaCommand{}, false
}

func (s *Shell) cmdHelp(args []string) error {
	cmds := metaCommands()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	for _, cmd := range cmds {
		name := "/" + cmd.Name
		if len(cmd.Aliases) > 0 {
			name += " (/" + strings.Join(cmd.Aliases, ", /") + ")"
		}
		fmt.Fprintf(s.out, "  %-28s %s\n", name, cmd.Help)
	}
	return nil
}

func (s *Shell) cmdVersion(args []string) error {
	fmt.Fprintf(s.out, "kestrel %s\n", s.version)
	return nil
}

func (s *Shell) cmdClear(args []string) error {
	if err := s.runtime.ClearContext(s.ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Conversation cleared.")
	return nil
}

func (s *Shell) cmdCompact(args []string) error {
	if err := s.runtime.CompactContext(s.ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "History compacted.")
	return nil
}

func (s *Shell) cmdSessions(args []string) error {
	if len(args) > 0 {
		target, err := s.sessions.Find(s.ctx, args[0])
		if err != nil {
			return err
		}
		if target == nil {
			fmt.Fprintf(s.out, "No session %s in this directory.\n", args[0])
			return nil
		}
		// Switching sessions rebuilds the whole runtime; hand control back
		// to main with the chosen id.
		return &ReloadError{SessionID: target.ID}
	}

	list, err := s.sessions.List(s.ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(s.out, "No sessions in this directory yet.")
		return nil
	}
	for _, sess := range list {
		marker := " "
		if sess.ID == s.runtime.SessionID() {
			marker = "*"
		}
		title := sess.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(s.out, "%s %s  %s  %s\n",
			marker, sess.ID, sess.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
	return nil
}

func (s *Shell) cmdYolo(args []string) error {
	on := !s.runtime.Yolo()
	s.runtime.SetYolo(on)
	if on {
		fmt.Fprintln(s.out, "Yolo mode ON: tool actions run without asking.")
	} else {
		fmt.Fprintln(s.out, "Yolo mode OFF: tool actions require approval.")
	}
	return nil
}

func (s *Shell) cmdExit(args []string) error {
	return errExit
}
