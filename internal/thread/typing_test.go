package thread

import (
	"sync"
	"testing"
	"time"

	"github.com/dmoroz/marketchat/internal/bus"
	"github.com/dmoroz/marketchat/internal/model"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []model.Typing
}

func (r *frameRecorder) Send(f model.Typing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) snapshot() []model.Typing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Typing, len(r.frames))
	copy(out, r.frames)
	return out
}

func TestTypingStartsOnEdgeOnly(t *testing.T) {
	rec := &frameRecorder{}
	c := NewTypingCoordinator(1, 9, time.Hour, time.Hour, rec, nil)

	c.ComposerChanged("h")
	c.ComposerChanged("he")
	c.ComposerChanged("hel")

	frames := rec.snapshot()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 (start edge only)", len(frames))
	}
	if !frames[0].IsTyping || frames[0].ChatID != 1 || frames[0].UserID != 9 {
		t.Errorf("start frame = %+v", frames[0])
	}
}

func TestTypingStopsAfterIdleWindow(t *testing.T) {
	rec := &frameRecorder{}
	c := NewTypingCoordinator(1, 9, 30*time.Millisecond, time.Hour, rec, nil)

	c.ComposerChanged("h")
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 }, "idle stop never sent")

	frames := rec.snapshot()
	if frames[1].IsTyping {
		t.Errorf("second frame = %+v, want stop", frames[1])
	}
}

func TestTypingIdleWindowRollsWithEdits(t *testing.T) {
	rec := &frameRecorder{}
	c := NewTypingCoordinator(1, 9, 60*time.Millisecond, time.Hour, rec, nil)

	c.ComposerChanged("h")
	time.Sleep(35 * time.Millisecond)
	c.ComposerChanged("he") // re-arms idle timer
	time.Sleep(35 * time.Millisecond)

	if frames := rec.snapshot(); len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 (idle window rolled forward)", len(frames))
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 }, "rolled idle stop never sent")
}

func TestTypingClearsOnEmptyComposerAndSend(t *testing.T) {
	rec := &frameRecorder{}
	c := NewTypingCoordinator(1, 9, time.Hour, time.Hour, rec, nil)

	c.ComposerChanged("h")
	c.ComposerChanged("")
	frames := rec.snapshot()
	if len(frames) != 2 || frames[1].IsTyping {
		t.Fatalf("frames = %+v, want start then stop", frames)
	}

	// Clearing twice sends nothing further.
	c.ComposerChanged("")
	c.MessageSent()
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("frames = %d, want 2", n)
	}

	c.ComposerChanged("again")
	c.MessageSent()
	frames = rec.snapshot()
	if len(frames) != 4 || frames[3].IsTyping {
		t.Errorf("frames = %+v, want stop after send", frames)
	}
}

func TestTypingRemoteExpiresWithoutStop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindThreadTyping, 10)
	defer unsub()

	c := NewTypingCoordinator(1, 9, time.Hour, 40*time.Millisecond, &frameRecorder{}, b)

	c.HandleRemote(model.Typing{ChatID: 1, UserID: 2, IsTyping: true})
	if !c.RemoteTyping() {
		t.Fatal("remote typing not set")
	}

	select {
	case evt := <-ch:
		if st := evt.Payload.(TypingState); !st.IsTyping {
			t.Errorf("payload = %+v, want typing", st)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing event")
	}

	// No typing:stop arrives; the fail-safe clears the indicator.
	waitFor(t, func() bool { return !c.RemoteTyping() }, "remote typing never expired")

	select {
	case evt := <-ch:
		if st := evt.Payload.(TypingState); st.IsTyping {
			t.Errorf("payload = %+v, want stopped", st)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for expiry event")
	}
}

func TestTypingRemoteIgnoresSelfAndOtherChats(t *testing.T) {
	c := NewTypingCoordinator(1, 9, time.Hour, time.Hour, &frameRecorder{}, nil)

	c.HandleRemote(model.Typing{ChatID: 2, UserID: 3, IsTyping: true}) // other chat
	c.HandleRemote(model.Typing{ChatID: 1, UserID: 9, IsTyping: true}) // own echo
	if c.RemoteTyping() {
		t.Error("remote typing set from ignored events")
	}

	c.HandleRemote(model.Typing{ChatID: 1, UserID: 3, IsTyping: true})
	if !c.RemoteTyping() {
		t.Fatal("remote typing not set")
	}
	c.HandleRemote(model.Typing{ChatID: 1, UserID: 3, IsTyping: false})
	if c.RemoteTyping() {
		t.Error("remote typing not cleared by stop")
	}
}
