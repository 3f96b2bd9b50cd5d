package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/dispatch"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
	"github.com/m3rciful/privybot/core/transport"
)

type recordingTransport struct {
	name string
	mu   sync.Mutex
	sent []transport.Message
}

func (r *recordingTransport) Name() string { return r.name }

func (r *recordingTransport) Send(_ context.Context, msg transport.Message) (transport.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return transport.Result{Transport: r.name, MessageID: fmt.Sprintf("out-%d", len(r.sent))}, nil
}

func (r *recordingTransport) messages() []transport.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Message(nil), r.sent...)
}

type chatTransport struct{ recordingTransport }

func (c *chatTransport) SessionKey(from string) (string, error) { return "tg:" + from, nil }

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return "answer", nil
}

func newTestService(t *testing.T, store session.Store, transports ...transport.Transport) *Service {
	t.Helper()
	if store == nil {
		store = session.NewMemoryStore()
	}
	return New(Options{
		Machine:            conversation.NewMachine(conversation.Options{Generator: echoGenerator{}}),
		Store:              store,
		Dispatcher:         dispatch.New(dispatch.Options{}),
		Transports:         transports,
		DefaultCountryCode: "234",
	})
}

func TestReceiveEndToEnd(t *testing.T) {
	wa := &recordingTransport{name: "twilio"}
	svc := newTestService(t, nil, wa)
	ctx := context.Background()

	steps := []struct {
		body string
		step conversation.Step
	}{
		{"hi", conversation.StepName},
		{"Ada", conversation.StepAge},
		{"25", conversation.StepEducation},
		{"degree", conversation.StepPrivacy},
		{"medium", conversation.StepCompleted},
		{"how do I secure my phone?", conversation.StepCompleted},
	}
	for i, st := range steps {
		in := Inbound{Transport: "twilio", From: "whatsapp:+2348012345678", Body: st.body, MessageID: fmt.Sprintf("SM%d", i)}
		if err := svc.Receive(ctx, in); err != nil {
			t.Fatalf("Receive(%q): %v", st.body, err)
		}
		sess, err := svc.Session(ctx, "twilio", in.From)
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if sess.CurrentStep != st.step {
			t.Fatalf("after %q step = %s, want %s", st.body, sess.CurrentStep, st.step)
		}
	}

	sent := wa.messages()
	if len(sent) != len(steps) {
		t.Fatalf("sent %d replies", len(sent))
	}
	if sent[0].To != "2348012345678" || sent[0].ReplyTo != "SM0" {
		t.Fatalf("first reply = %+v", sent[0])
	}
	if !strings.HasPrefix(sent[1].Text, "Nice to meet you, Ada!") || len(sent[1].Options) != 3 {
		t.Fatalf("name reply = %+v", sent[1])
	}
	if sent[5].Text != "answer" {
		t.Fatalf("free-form reply = %q", sent[5].Text)
	}
}

func TestDuplicateMessageIsNotApplied(t *testing.T) {
	wa := &recordingTransport{name: "graph"}
	svc := newTestService(t, nil, wa)
	ctx := context.Background()
	in := Inbound{Transport: "graph", From: "2348012345678", Body: "Ada", MessageID: "wamid.1"}

	if err := svc.Receive(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := svc.Receive(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := svc.Handle(ctx, in)
	if err != nil || !out.Duplicate {
		t.Fatalf("Handle duplicate = %+v, %v", out, err)
	}
	if n := len(wa.messages()); n != 1 {
		t.Fatalf("sent %d replies for one message", n)
	}

	// A fresh service shares the store but not the in-memory set; the
	// stored last message id still catches the redelivery.
	other := New(Options{
		Machine:            conversation.NewMachine(conversation.Options{}),
		Store:              svc.store,
		Dispatcher:         dispatch.New(dispatch.Options{}),
		DefaultCountryCode: "234",
	})
	out, err = other.Handle(ctx, in)
	if err != nil || !out.Duplicate {
		t.Fatalf("stored duplicate = %+v, %v", out, err)
	}
}

func TestConcurrentMessagesOfOneUserAreSerialized(t *testing.T) {
	store := session.NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Handle(ctx, Inbound{Transport: "api", From: "08012345678", Body: fmt.Sprintf("msg %d", i), MessageID: fmt.Sprintf("m%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	sess, err := store.Get(ctx, "2348012345678")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Version != n+1 {
		t.Fatalf("version = %d, want %d (one save per message)", sess.Version, n+1)
	}
	if sess.CurrentStep != conversation.StepAge {
		t.Fatalf("step = %s", sess.CurrentStep)
	}
}

type conflictOnce struct {
	session.Store
	mu   sync.Mutex
	done bool
}

func (c *conflictOnce) Save(ctx context.Context, s *conversation.Session) error {
	c.mu.Lock()
	first := !c.done
	c.done = true
	c.mu.Unlock()
	if first {
		return session.ErrConflict
	}
	return c.Store.Save(ctx, s)
}

func TestConflictIsRetried(t *testing.T) {
	store := &conflictOnce{Store: session.NewMemoryStore()}
	svc := newTestService(t, store)
	out, err := svc.Handle(context.Background(), Inbound{Transport: "api", From: "+2348012345678", Body: "Ada"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Session.CurrentStep != conversation.StepAge || out.Session.Name != "Ada" {
		t.Fatalf("session = %+v", out.Session)
	}
}

func TestTransportSessionKey(t *testing.T) {
	tg := &chatTransport{recordingTransport{name: "telegram"}}
	svc := newTestService(t, nil, tg)
	err := svc.Receive(context.Background(), Inbound{Transport: "telegram", From: "42", Body: "Ada", MessageID: "7"})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	sess, err := svc.Session(context.Background(), "telegram", "42")
	if err != nil || sess.UserID != "tg:42" {
		t.Fatalf("session = %+v, %v", sess, err)
	}
	if to := tg.messages()[0].To; to != "tg:42" {
		t.Fatalf("reply address = %q", to)
	}
}

func TestReceiveErrors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	if err := svc.Receive(ctx, Inbound{Transport: "graph", From: "2348012345678", Body: "  "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty body err = %v", err)
	}
	if err := svc.Receive(ctx, Inbound{Transport: "graph", From: "12", Body: "hi"}); !errors.Is(err, conversation.ErrInvalidIdentifier) {
		t.Fatalf("bad number err = %v", err)
	}
	if err := svc.Receive(ctx, Inbound{Transport: "graph", From: "2348012345678", Body: "hi"}); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("unregistered transport err = %v", err)
	}
}

func TestOutboxDelivery(t *testing.T) {
	wa := &recordingTransport{name: "graph"}
	outbox := queue.New(queue.Options{Workers: 2})
	svc := New(Options{
		Machine:            conversation.NewMachine(conversation.Options{}),
		Store:              session.NewMemoryStore(),
		Dispatcher:         dispatch.New(dispatch.Options{}),
		Outbox:             outbox,
		Transports:         []transport.Transport{wa},
		DefaultCountryCode: "234",
	})
	if err := svc.Receive(context.Background(), Inbound{Transport: "graph", From: "2348012345678", Body: "hello"}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	outbox.Close()
	if sent := wa.messages(); len(sent) != 1 || sent[0].Options != nil {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSameMessageIDInTwoChats(t *testing.T) {
	tg := &chatTransport{recordingTransport{name: "telegram"}}
	svc := newTestService(t, nil, tg)
	ctx := context.Background()

	if err := svc.Receive(ctx, Inbound{Transport: "telegram", From: "111", Body: "hi", MessageID: "1"}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	out, err := svc.Handle(ctx, Inbound{Transport: "telegram", From: "222", Body: "hi", MessageID: "1"})
	if err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if out.Duplicate || out.Reply.Message == "" || out.Session.UserID != "tg:222" {
		t.Fatalf("second chat outcome = %+v", out)
	}
}

// failingSave fails the nth Save it sees with a version conflict.
type failingSave struct {
	session.Store
	mu    sync.Mutex
	calls int
	nth   int
}

func (f *failingSave) Save(ctx context.Context, s *conversation.Session) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.nth
	f.mu.Unlock()
	if fail {
		return session.ErrConflict
	}
	return f.Store.Save(ctx, s)
}

func TestConflictAfterCommitStillReplies(t *testing.T) {
	mem := session.NewMemoryStore()
	ctx := context.Background()
	setup := newTestService(t, mem)
	for i, body := range []string{"hi", "Ada", "25", "degree", "medium"} {
		if _, err := setup.Handle(ctx, Inbound{Transport: "api", From: "2348012345678", Body: body, MessageID: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("setup %q: %v", body, err)
		}
	}

	wa := &recordingTransport{name: "api"}
	svc := newTestService(t, &failingSave{Store: mem, nth: 2}, wa)
	in := Inbound{Transport: "api", From: "2348012345678", Body: "how do I secure my phone?", MessageID: "m9"}
	if err := svc.Receive(ctx, in); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	sent := wa.messages()
	if len(sent) != 1 || sent[0].Text != "answer" {
		t.Fatalf("sent = %+v", sent)
	}
	stored, err := mem.Get(ctx, "2348012345678")
	if err != nil || stored.LastMessageID != "m9" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestRecentSetExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := newRecentSet(time.Minute, func() time.Time { return now })
	r.add("a")
	now = now.Add(30 * time.Second)
	r.add("b")
	if !r.has("a") || !r.has("b") {
		t.Fatal("fresh entries missing")
	}

	now = now.Add(45 * time.Second)
	if r.has("a") {
		t.Fatal("expired entry reported")
	}
	if !r.has("b") {
		t.Fatal("live entry dropped")
	}
	if r.len() != 1 {
		t.Fatalf("len = %d after sweep", r.len())
	}
}

func TestTranscriptRecordsBothSides(t *testing.T) {
	wa := &recordingTransport{name: "graph"}
	transcripts := transcript.NewMemoryStore()
	svc := New(Options{
		Machine:            conversation.NewMachine(conversation.Options{Generator: echoGenerator{}}),
		Store:              session.NewMemoryStore(),
		Dispatcher:         dispatch.New(dispatch.Options{}),
		Transports:         []transport.Transport{wa},
		DefaultCountryCode: "234",
		Transcripts:        transcripts,
	})
	ctx := context.Background()
	for i, body := range []string{"hi", " Ada "} {
		if err := svc.Receive(ctx, Inbound{Transport: "graph", From: "2348012345678", Body: body, MessageID: fmt.Sprintf("w%d", i)}); err != nil {
			t.Fatalf("Receive(%q): %v", body, err)
		}
	}
	// A redelivery is not recorded twice.
	if err := svc.Receive(ctx, Inbound{Transport: "graph", From: "2348012345678", Body: " Ada ", MessageID: "w1"}); err != nil {
		t.Fatal(err)
	}

	key, err := svc.SessionKey("graph", "+234 801 234 5678")
	if err != nil || key != "2348012345678" {
		t.Fatalf("SessionKey = %q, %v", key, err)
	}
	history, err := svc.History(ctx, key, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history has %d entries: %+v", len(history), history)
	}
	if history[2].Content != "Ada" || history[2].IsBot {
		t.Fatalf("user entry = %+v", history[2])
	}
	if !history[3].IsBot || len(history[3].Options) != 3 || history[3].Content != wa.messages()[1].Text {
		t.Fatalf("bot entry = %+v", history[3])
	}

	if _, err := newTestService(t, nil).History(ctx, key, 0); !errors.Is(err, ErrNoTranscripts) {
		t.Fatalf("History without transcripts = %v", err)
	}
}
