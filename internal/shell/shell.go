// Package shell implements the interactive command interpreter of gojotxn.
// One shell owns a transaction manager and a coordinator whose participant
// list is assembled with the add/addtxn commands.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojotxn/config"
	"github.com/sushant-115/gojotxn/core/commit"
	"github.com/sushant-115/gojotxn/core/transaction"
	"github.com/sushant-115/gojotxn/internal/scenario"
	"go.uber.org/zap"
)

// ErrExit is returned by Execute for the exit and quit commands.
var ErrExit = errors.New("exit requested")

const usage = `Commands:
  begin <id>                     start a transaction
  write <id> <key> <value>       buffer a write in the transaction overlay
  read <id> <key> [nofallback]   read through the transaction
  commit <id> | rollback <id>    finish a transaction
  get <key>                      read the committed value
  dump | active                  show committed data | active transactions
  add <name> <ready|notready>    add a fixed-vote participant
  addtxn <name> <id>             add a participant wrapping transaction <id>
  participants | clear           list | drop the participants
  round <1pc|2pc>                run a commit round
  status                         status of the last round
  help | exit`

// Shell interprets one command line at a time.
type Shell struct {
	env     scenario.Env
	logger  *zap.Logger
	manager *transaction.Manager[string]
	coord   *commit.Coordinator
}

// New creates a Shell with an empty store and no participants.
func New(env scenario.Env) *Shell {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{
		env:     env,
		logger:  logger.Named("shell"),
		manager: env.NewManager(),
		coord:   env.NewCoordinator(),
	}
}

// Execute runs one command line and returns its output.
func (s *Shell) Execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		return usage, nil
	case "exit", "quit":
		return "", ErrExit
	case "begin":
		id, err := parseID(args, 1)
		if err != nil {
			return "", err
		}
		if _, err := s.manager.BeginTransaction(id); err != nil {
			return "", err
		}
		return fmt.Sprintf("transaction %d started", id), nil
	case "write":
		if len(args) < 3 {
			return "", errors.New("usage: write <id> <key> <value>")
		}
		id, err := parseID(args, 3)
		if err != nil {
			return "", err
		}
		value := strings.Join(args[2:], " ")
		if err := s.manager.Write(id, args[1], value); err != nil {
			return "", err
		}
		return "OK", nil
	case "read":
		if len(args) < 2 || len(args) > 3 {
			return "", errors.New("usage: read <id> <key> [nofallback]")
		}
		id, err := parseID(args, len(args))
		if err != nil {
			return "", err
		}
		fallback := len(args) == 2 || args[2] != "nofallback"
		v, ok := s.manager.Read(id, args[1], fallback)
		return formatValue(v, ok), nil
	case "commit", "rollback":
		id, err := parseID(args, 1)
		if err != nil {
			return "", err
		}
		verb := "committed"
		if cmd == "commit" {
			err = s.manager.Commit(id)
		} else {
			err = s.manager.Rollback(id)
			verb = "rolled back"
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("transaction %d %s", id, verb), nil
	case "get":
		if len(args) != 1 {
			return "", errors.New("usage: get <key>")
		}
		v, ok := s.manager.Store().Get(args[0])
		return formatValue(v, ok), nil
	case "dump":
		var b strings.Builder
		for _, kv := range s.manager.ShowData() {
			fmt.Fprintf(&b, "%s = %q\n", kv.Key, kv.Value)
		}
		return strings.TrimSuffix(b.String(), "\n"), nil
	case "active":
		ids := s.manager.Active()
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, strconv.FormatUint(uint64(id), 10))
		}
		return strings.Join(parts, " "), nil
	case "add":
		if len(args) != 2 {
			return "", errors.New("usage: add <name> <ready|notready>")
		}
		vote, err := parseVote(args[1])
		if err != nil {
			return "", err
		}
		s.coord.AddParticipant(commit.NewStaticParticipant(args[0], vote, s.env.Logger))
		return fmt.Sprintf("participant %s added", args[0]), nil
	case "addtxn":
		if len(args) != 2 {
			return "", errors.New("usage: addtxn <name> <id>")
		}
		id, err := parseID(args[1:], 1)
		if err != nil {
			return "", err
		}
		s.coord.AddParticipant(commit.NewTxnParticipant(args[0], s.manager, id, s.env.Logger))
		return fmt.Sprintf("participant %s added for transaction %d", args[0], id), nil
	case "participants":
		ps := s.coord.Participants()
		names := make([]string, 0, len(ps))
		for _, p := range ps {
			names = append(names, p.Name())
		}
		return strings.Join(names, ", "), nil
	case "clear":
		s.coord = s.env.NewCoordinator()
		return "participants cleared", nil
	case "round":
		if len(args) != 1 {
			return "", errors.New("usage: round <1pc|2pc>")
		}
		strategy, err := ParseStrategy(args[0])
		if err != nil {
			return "", err
		}
		return FormatRound(s.coord.Run(ctx, strategy)), nil
	case "status":
		return s.coord.Status().String(), nil
	default:
		return "", fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// LineReader is the subset of *readline.Instance used by Run.
type LineReader interface {
	Readline() (string, error)
}

// Run reads commands from r until EOF or exit, writing results to out.
// Command errors are printed and do not stop the loop.
func (s *Shell) Run(ctx context.Context, r LineReader, out io.Writer) error {
	for {
		line, err := r.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := s.Execute(ctx, line)
		if errors.Is(err, ErrExit) {
			return nil
		}
		if err != nil {
			s.logger.Debug("Command failed.", zap.String("line", line), zap.Error(err))
			fmt.Fprintf(out, "ERROR: %v\n", err)
			continue
		}
		if res != "" {
			fmt.Fprintln(out, res)
		}
	}
}

// NewReadline opens a line editor configured from cfg with command completion.
func NewReadline(cfg config.ShellConfig) (*readline.Instance, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("begin"),
		readline.PcItem("write"),
		readline.PcItem("read"),
		readline.PcItem("commit"),
		readline.PcItem("rollback"),
		readline.PcItem("get"),
		readline.PcItem("dump"),
		readline.PcItem("active"),
		readline.PcItem("add"),
		readline.PcItem("addtxn"),
		readline.PcItem("participants"),
		readline.PcItem("clear"),
		readline.PcItem("round", readline.PcItem("1pc"), readline.PcItem("2pc")),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// ParseStrategy accepts 1pc/one-phase and 2pc/two-phase.
func ParseStrategy(s string) (commit.Strategy, error) {
	switch strings.ToLower(s) {
	case "1pc", "one-phase", "onephase":
		return commit.OnePhase, nil
	case "2pc", "two-phase", "twophase":
		return commit.TwoPhase, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// ParseVotes parses a list of votes such as "true", "ready" or "abort".
func ParseVotes(raw []string) ([]bool, error) {
	votes := make([]bool, 0, len(raw))
	for _, r := range raw {
		v, err := parseVote(r)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// FormatRound renders a round as a short multi-line report.
func FormatRound(r *commit.Round) string {
	var b strings.Builder
	fmt.Fprintf(&b, "round %s (%s): %s", r.ID, r.Strategy, r.Status)
	if r.Reason != commit.ReasonNone {
		fmt.Fprintf(&b, " [%s]", r.Reason)
	}
	for _, v := range r.Votes {
		fmt.Fprintf(&b, "\n  %s: %s", v.Participant, v.Decision.Label(r.Strategy))
	}
	if len(r.Committed) > 0 {
		fmt.Fprintf(&b, "\n  committed locally: %s", strings.Join(r.Committed, ", "))
	}
	return b.String()
}

func parseVote(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "ready", "commit", "1":
		return true, nil
	case "false", "no", "notready", "abort", "0":
		return false, nil
	}
	return false, fmt.Errorf("unknown vote %q", s)
}

// parseID parses args[0] as a transaction id, requiring at least want args.
func parseID(args []string, want int) (transaction.TxnID, error) {
	if len(args) < want || len(args) == 0 {
		return 0, errors.New("missing transaction id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id %q: %w", args[0], err)
	}
	return transaction.TxnID(id), nil
}

func formatValue(v string, ok bool) string {
	if !ok {
		return "(absent)"
	}
	return strconv.Quote(v)
}
