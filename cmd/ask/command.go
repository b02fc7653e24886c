package ask

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quka-ai/ragstream/app/core"
	"github.com/quka-ai/ragstream/pkg/client"
	"github.com/quka-ai/ragstream/pkg/mark"
	"github.com/quka-ai/ragstream/pkg/stream"
	"github.com/quka-ai/ragstream/pkg/types"
)

type Options struct {
	ConfigPath string
	Endpoint   string
	Mode       string
	Lang       string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "read the [client] section of the given config")
	flagSet.StringVarP(&o.Endpoint, "endpoint", "e", "", "chat service address")
	flagSet.StringVarP(&o.Mode, "mode", "m", "", "search mode, rag or agent")
	flagSet.StringVarP(&o.Lang, "lang", "l", "", "Accept-Language sent to the service")
}

func NewCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "ask the chat service from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), opts, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func (o *Options) clientConfig() (core.ClientConfig, error) {
	var cfg core.CoreConfig
	if o.ConfigPath != "" {
		raw, err := os.ReadFile(o.ConfigPath)
		if err != nil {
			return core.ClientConfig{}, err
		}
		if cfg, err = core.ParseConfig(raw); err != nil {
			return core.ClientConfig{}, err
		}
	} else {
		cfg = core.LoadBaseConfigFromENV()
	}
	if o.Endpoint != "" {
		cfg.Client.Endpoint = o.Endpoint
	}
	if o.Mode != "" {
		cfg.Client.Mode = o.Mode
	}
	return cfg.Client, nil
}

// Run answers question once, or reads questions line by line from in when
// question is empty. Ctrl-C stops the reply being printed. While no reply is
// running it ends the session and hands Ctrl-C back to the default handler.
func Run(ctx context.Context, opts *Options, question string, in io.Reader, out io.Writer) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	return run(ctx, opts, question, in, out, interrupts, func() { signal.Stop(interrupts) })
}

func run(ctx context.Context, opts *Options, question string, in io.Reader, out io.Writer, interrupts <-chan os.Signal, release func()) error {
	cfg, err := opts.clientConfig()
	if err != nil {
		return err
	}
	mode, ok := types.ParseSearchMode(cfg.Mode)
	if !ok {
		return fmt.Errorf("unsupported search mode %q", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := newPrinter(out)
	var (
		mu      sync.Mutex
		replyID string
	)
	session := client.NewSession(cfg.Endpoint,
		client.WithLanguage(opts.Lang),
		client.WithEventHandler(p.event),
		client.WithStartHandler(func(msgID string) {
			mu.Lock()
			replyID = msgID
			mu.Unlock()
		}))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-interrupts:
			}
			mu.Lock()
			id := replyID
			replyID = ""
			mu.Unlock()
			if id == "" {
				cancel()
				release()
				return
			}
			if err := session.Stop(ctx, id); err != nil {
				p.error(err)
			}
		}
	}()

	ask := func(q string) error {
		defer func() {
			mu.Lock()
			replyID = ""
			mu.Unlock()
		}()
		return p.ask(ctx, session, q, mode)
	}

	if question != "" {
		return ask(question)
	}

	scanner := bufio.NewScanner(in)
	for {
		p.prompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			session.Reset()
			continue
		}
		if err := ask(line); err != nil {
			p.error(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type printer struct {
	out       io.Writer
	user      *color.Color
	text      *color.Color
	reference *color.Color
	failure   *color.Color
	faint     *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:       out,
		user:      color.New(color.FgCyan, color.Bold),
		text:      color.New(color.Reset),
		reference: color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
		faint:     color.New(color.Faint),
	}
}

func (p *printer) prompt() {
	p.user.Fprint(p.out, "> ")
}

// event prints text deltas as they arrive.
func (p *printer) event(ev stream.Event) {
	if ev.Type == stream.EVENT_TEXT_DELTA {
		p.text.Fprint(p.out, ev.Text)
	}
}

func (p *printer) error(err error) {
	p.failure.Fprintln(p.out, err.Error())
}

func (p *printer) ask(ctx context.Context, session *client.Session, question string, mode types.SearchMode) error {
	turn, err := session.Ask(ctx, question, mode)
	fmt.Fprintln(p.out)
	if err != nil {
		return err
	}
	if turn.Error != "" {
		p.failure.Fprintln(p.out, turn.Error)
		return nil
	}

	seen := map[string]bool{}
	for _, seg := range turn.Segments(nil) {
		if seg.Type != mark.SEGMENT_SHORT_ID || seen[seg.ShortID] {
			continue
		}
		seen[seg.ShortID] = true
		p.reference.Fprintf(p.out, "[%s] ", seg.ShortID)
		p.faint.Fprintln(p.out, snippet(seg.Passage))
	}
	if turn.Usage != nil && (turn.Usage.PromptTokens > 0 || turn.Usage.CompletionTokens > 0) {
		p.faint.Fprintf(p.out, "tokens: prompt %d, completion %d\n", turn.Usage.PromptTokens, turn.Usage.CompletionTokens)
	}
	return nil
}

func snippet(passage *types.PassageRecord) string {
	if passage == nil {
		return ""
	}
	text := strings.Join(strings.Fields(passage.Text), " ")
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80]) + "..."
	}
	if passage.DocumentID == "" {
		return text
	}
	return passage.DocumentID + ": " + text
}
