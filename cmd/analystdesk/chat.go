package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lhdbsbz/analystdesk/internal/config"
	"github.com/lhdbsbz/analystdesk/internal/extract"
	"github.com/lhdbsbz/analystdesk/internal/session"
	"github.com/lhdbsbz/analystdesk/internal/store"
	"github.com/lhdbsbz/analystdesk/internal/stream"
	"github.com/lhdbsbz/analystdesk/internal/turn"
)

type chatFlags struct {
	ws        bool
	thread    string
	websearch bool
	retrieval bool
	attach    []string
	persist   bool
}

func chatCmd() *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the workflow backend (one-shot with a message, interactive otherwise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), f, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&f.ws, "ws", false, "use the WebSocket transport regardless of stream.transport")
	cmd.Flags().StringVar(&f.thread, "thread", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&f.websearch, "websearch", false, "enable web search for the turn")
	cmd.Flags().BoolVar(&f.retrieval, "retrieval", false, "enable retrieval for the turn")
	cmd.Flags().StringSliceVar(&f.attach, "attach", nil, "files to extract and send with the first message")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "keep conversations under $ANALYSTDESK_HOME/data across runs")
	return cmd
}

func runChat(parent context.Context, f chatFlags, oneShot string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := cfg.Stream.Transport
	if f.ws {
		transport = config.TransportWS
	}
	header := http.Header{}
	if cfg.Backend.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Backend.Token)
	}

	reg := newRegistry(f.persist)
	sess := session.New(session.Options{
		Registry: reg,
		Client: &turn.Client{
			BaseURL:    cfg.Backend.BaseURL,
			StreamPath: cfg.Backend.StreamPath,
			SendPath:   cfg.Backend.SendPath,
			Token:      cfg.Backend.Token,
			Classifier: stream.Classifier{
				Mode:        stream.Mode(cfg.Stream.Mode),
				PrimaryNode: cfg.Stream.PrimaryNode,
			},
		},
		Transport: transport,
		SocketURL: cfg.Backend.SocketURL,
		Header:    header,
	})
	defer sess.Close()

	thread := f.thread
	if thread == "" {
		thread = uuid.NewString()
	}
	p := newPrinter(os.Stdout)
	defer p.detach()
	switchTo(sess, p, thread)

	if len(f.attach) > 0 {
		attachFiles(ctx, cfg, sess.Store(), f.attach)
	}

	opts := turn.Options{Websearch: f.websearch, Retrieval: f.retrieval}
	if oneShot != "" {
		return send(ctx, sess, oneShot, opts)
	}

	fmt.Fprintf(os.Stderr, "conversation %s (%s). /new, /list, /switch <id>, /quit\n", thread, transport)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			id := uuid.NewString()
			switchTo(sess, p, id)
			fmt.Fprintf(os.Stderr, "conversation %s\n", id)
		case line == "/list":
			for _, e := range reg.List() {
				fmt.Fprintf(os.Stderr, "%s  %s  %d messages  %s\n", e.ID, e.UpdatedAt.Format("2006-01-02 15:04"), e.Messages, e.Title)
			}
		case strings.HasPrefix(line, "/switch "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
			switchTo(sess, p, id)
			for _, m := range sess.Store().Messages() {
				fmt.Fprintf(os.Stdout, "[%s] %s\n", m.Role, m.Content)
			}
		default:
			if err := send(ctx, sess, line, opts); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, session.ErrTurnInProgress) {
					fmt.Fprintln(os.Stderr, "still answering the previous message")
				}
			}
		}
	}
}

// newRegistry keeps conversations in memory unless persistence is requested.
func newRegistry(persist bool) *session.Registry {
	if !persist {
		return session.NewRegistry("")
	}
	reg := session.NewRegistry(filepath.Join(config.ResolveHome(), "data"))
	if err := reg.Load(); err != nil {
		slog.Warn("failed to load conversation list", "error", err)
	}
	return reg
}

func switchTo(sess *session.Session, p *printer, id string) {
	sess.Switch(id)
	p.attach(sess.Store())
}

func send(ctx context.Context, sess *session.Session, text string, opts turn.Options) error {
	tr, err := sess.Send(ctx, text, opts)
	if err != nil {
		return err
	}
	return tr.Wait(ctx)
}

func attachFiles(ctx context.Context, cfg *config.Config, st *store.Store, paths []string) {
	proc := &extract.Processor{
		Extractor: &extract.Client{
			URL:   strings.TrimRight(cfg.Backend.BaseURL, "/") + cfg.Backend.ExtractPath,
			Token: cfg.Backend.Token,
		},
		Store:       st,
		SoftTimeout: cfg.Attachments.SoftTimeout,
	}
	var pending []<-chan struct{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			slog.Warn("cannot attach file", "path", path, "error", err)
			continue
		}
		_, done := proc.Attach(ctx, filepath.Base(path), f)
		pending = append(pending, done)
		go func() {
			<-done
			f.Close()
		}()
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	for _, a := range st.Attachments() {
		if a.Status == store.StatusFailed {
			fmt.Fprintf(os.Stderr, "attachment %s failed: %s\n", a.Title, a.Error)
		}
	}
}

// printer renders store changes of the active conversation as they happen.
type printer struct {
	w io.Writer

	mu          sync.Mutex
	printed     map[string]string // message id → text already written
	unsubscribe func()
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, printed: make(map[string]string)}
}

func (p *printer) attach(st *store.Store) {
	p.detach()
	if st == nil {
		return
	}
	unsub := st.Subscribe(p.handle)
	p.mu.Lock()
	p.unsubscribe = unsub
	p.mu.Unlock()
}

func (p *printer) detach() {
	p.mu.Lock()
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (p *printer) handle(c store.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Message != nil && c.Message.Role != store.RoleAssistant {
		return
	}
	switch c.Type {
	case store.ChangeMessageAdded:
		if c.Message.Sealed {
			fmt.Fprintln(p.w, c.Message.Content)
		}
	case store.ChangeMessageAppended:
		fmt.Fprint(p.w, c.Delta)
		p.printed[c.MessageID] += c.Delta
	case store.ChangeMessageReplaced:
		done := p.printed[c.MessageID]
		if rest, ok := strings.CutPrefix(c.Message.Content, done); ok {
			fmt.Fprint(p.w, rest)
		} else {
			fmt.Fprint(p.w, "\n"+c.Message.Content)
		}
		p.printed[c.MessageID] = c.Message.Content
	case store.ChangeMessageSealed:
		fmt.Fprintln(p.w)
		delete(p.printed, c.MessageID)
	case store.ChangeStructuredData:
		fmt.Fprintf(p.w, "[data] %s\n", c.Structured)
	}
}
