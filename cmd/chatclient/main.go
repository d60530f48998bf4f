// Command chatclient is a terminal client driving a session store against a
// running server. Lines starting with a slash are commands; anything else is
// sent to the open conversation.
package main

import (
	"bufio"
	"chatterbox/internal/bus"
	"chatterbox/internal/client"
	"chatterbox/internal/config"
	"chatterbox/internal/models"
	"chatterbox/internal/session"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const help = `commands:
  /contacts [online] list contacts, optionally only those online
  /chats             list conversations, most recent first
  /open <id>         open the conversation with a contact
  /close             close the open conversation
  /dismiss <id>      dismiss a notification
  /quit              exit
anything else is sent to the open conversation`

func run(ctx context.Context, in io.Reader, w io.Writer) error {
	out := newPrinter(w)

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	rt := client.NewRealtime(cfg.ServerURL, cfg.UserID)
	store := session.New(session.Config{
		API:                 client.NewHTTP(cfg.ServerURL, cfg.UserID, nil),
		UserID:              cfg.UserID,
		NotificationTTL:     cfg.NotificationTTL,
		BackfillOnReconnect: true,
	})
	defer store.Close()

	if err := store.Attach(rt); err != nil {
		return err
	}

	events, unsub := store.Subscribe("chat.", 64)
	defer unsub()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return nil
				}
				printEvent(out, store, evt)
			case <-gCtx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		defer cancel()
		// Load failures reach the terminal as error events.
		_ = store.LoadContacts(gCtx)
		_ = store.LoadChatList(gCtx)
		fmt.Fprintln(out, help)

		lines := readLines(gCtx, in)

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(gCtx, out, store, strings.TrimSpace(line)); quit {
					return nil
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// readLines scans in until EOF or until ctx is done, whichever comes first.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func handleLine(ctx context.Context, out *printer, store *session.Store, line string) bool {
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	st := store.Snapshot()

	switch cmd {
	case "/quit":
		return true
	case "/help":
		fmt.Fprintln(out, help)
	case "/contacts":
		if arg != "" && arg != "online" {
			fmt.Fprintln(out, "usage: /contacts [online]")
			return false
		}
		for _, c := range st.Users {
			if arg == "online" && !c.Online {
				continue
			}
			fmt.Fprintf(out, "  %-36s %s%s\n", c.ID, c.FullName, onlineMark(c))
		}
	case "/chats":
		for _, c := range st.Chats {
			fmt.Fprintf(out, "  %-36s %s%s  %s\n", c.ID, c.FullName, onlineMark(c), c.RecencyKey().Local().Format("Jan 2 15:04"))
		}
	case "/open":
		contact, ok := findContact(st, arg)
		if !ok {
			fmt.Fprintf(out, "unknown contact %q\n", arg)
			return false
		}
		store.SelectContact(&contact)
		if err := store.LoadMessages(ctx, contact.ID); err != nil {
			return false
		}
		st := store.Snapshot()
		for _, m := range st.Messages {
			out.message(st, m)
		}
	case "/close":
		store.SelectContact(nil)
	case "/dismiss":
		if !store.DismissNotification(arg) {
			fmt.Fprintf(out, "no notification %q\n", arg)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintf(out, "unknown command %s\n", cmd)
			return false
		}
		msg, err := store.SendMessage(ctx, models.SendRequest{Text: line})
		switch {
		case errors.Is(err, session.ErrNoContactSelected):
			fmt.Fprintln(out, "open a conversation first: /open <id>")
		case err != nil:
			// Reported by the store as an error event.
		default:
			out.message(store.Snapshot(), msg)
		}
	}
	return false
}

func findContact(st session.State, id string) (models.Contact, bool) {
	for _, list := range [][]models.Contact{st.Users, st.Chats} {
		for _, c := range list {
			if c.ID == id {
				return c, true
			}
		}
	}
	return models.Contact{}, false
}

func onlineMark(c models.Contact) string {
	if c.Online {
		return " *"
	}
	return ""
}

// printer writes to the terminal from both the input loop and the event
// loop, printing each message once.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: make(map[string]bool)}
}

func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *printer) message(st session.State, m models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed[m.ID] {
		return
	}
	p.printed[m.ID] = true
	printMessage(p.out, st, m)
}

func printMessage(out io.Writer, st session.State, m models.Message) {
	name := m.SenderID
	if c, ok := findContact(st, m.SenderID); ok {
		name = c.FullName
	} else if st.Selected != nil && m.SenderID != st.Selected.ID {
		name = "me"
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), name, m.Preview())
}

func printEvent(out *printer, store *session.Store, evt bus.Event) {
	switch evt.Kind {
	case session.EventNotificationAdded:
		if n, ok := evt.Payload.(models.Notification); ok {
			fmt.Fprintf(out, "(%s) new message from %s: %s\n", n.ID, n.Sender.FullName, n.Message.Preview())
		}
	case session.EventMessages:
		st := store.Snapshot()
		for _, m := range st.Messages {
			out.message(st, m)
		}
	case session.EventError:
		if n, ok := evt.Payload.(session.ErrorNotice); ok {
			fmt.Fprintf(out, "error (%s): %s\n", n.Op, n.Message)
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
