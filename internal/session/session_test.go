package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/proto"
)

func TestAudioBufAppendSlicesIntoFrames(t *testing.T) {
	var b audioBuf

	half := make([]byte, audio.FrameBytes/2)
	if frames := b.append(half); len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}

	rest := make([]byte, audio.FrameBytes+audio.FrameBytes/2)
	frames := b.append(rest)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if len(frames[0]) != audio.FrameBytes {
		t.Fatalf("frame len = %d, want %d", len(frames[0]), audio.FrameBytes)
	}
	if len(b.pending) != audio.FrameBytes/2 {
		t.Fatalf("pending = %d, want %d leftover", len(b.pending), audio.FrameBytes/2)
	}
}

// dialSessionPair spins up a websocket echo-less server and returns the
// server-side *websocket.Conn (handed to the Session under test) plus the
// client-side conn the test uses to drain frames/close the server.
func dialSessionPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()
	var upgrader websocket.Upgrader
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	serverConn := <-serverConnCh
	cleanup := func() {
		clientConn.Close()
		serverConn.Close()
		srv.Close()
	}
	return serverConn, clientConn, cleanup
}

func TestSessionCloseIsIdempotentWithNilHandles(t *testing.T) {
	serverConn, _, cleanup := dialSessionPair(t)
	defer cleanup()

	s := New(Config{UID: "user-1"}, serverConn)
	s.Close()
	s.Close() // must not panic or double-release nil pool handles
}

func TestSessionTouchAndIdleSince(t *testing.T) {
	serverConn, _, cleanup := dialSessionPair(t)
	defer cleanup()

	s := New(Config{UID: "user-1"}, serverConn)
	defer s.Close()

	s.lastActive = time.Now().Add(-time.Hour)
	if s.IdleSince() < 30*time.Minute {
		t.Fatalf("IdleSince = %v, want roughly an hour", s.IdleSince())
	}
	s.touch()
	if s.IdleSince() > time.Second {
		t.Fatalf("IdleSince after touch = %v, want near zero", s.IdleSince())
	}
}

func TestSessionHandleChatCancelEmitsEvent(t *testing.T) {
	serverConn, clientConn, cleanup := dialSessionPair(t)
	defer cleanup()

	s := New(Config{UID: "user-1"}, serverConn)
	defer s.Close()
	go s.sendLoop()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTurn = cancel
	s.HandleEnvelope(context.Background(), proto.Envelope{EventType: proto.EventConversationChatCancel})
	if ctx.Err() == nil {
		t.Fatal("expected cancelTurn to be invoked")
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env proto.Envelope
	if err := clientConn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if env.EventType != proto.EventConversationChatCanceled {
		t.Fatalf("EventType = %q, want conversation.chat.canceled", env.EventType)
	}
}

func TestSessionRunDialogueTurnNoLLMEmitsResourceUnavailable(t *testing.T) {
	serverConn, clientConn, cleanup := dialSessionPair(t)
	defer cleanup()

	s := New(Config{UID: "user-1"}, serverConn)
	defer s.Close()
	go s.sendLoop()

	s.runDialogueTurn(context.Background(), "hello there")

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last proto.Envelope
	for i := 0; i < 10; i++ {
		var env proto.Envelope
		if err := clientConn.ReadJSON(&env); err != nil {
			break
		}
		last = env
		if env.EventType == proto.EventError {
			break
		}
	}
	if last.EventType != proto.EventError {
		t.Fatalf("expected a terminal error event, last = %+v", last)
	}
}

func TestOnTTSAudioEmptyChunkSignalsCompletion(t *testing.T) {
	serverConn, clientConn, cleanup := dialSessionPair(t)
	defer cleanup()

	s := New(Config{UID: "user-1"}, serverConn)
	defer s.Close()
	go s.sendLoop()

	s.onTTSAudio("req-1", nil)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second proto.Envelope
	if err := clientConn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON first: %v", err)
	}
	if err := clientConn.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON second: %v", err)
	}
	if first.EventType != proto.EventSpeechAudioCompleted || second.EventType != proto.EventConversationAudioCompleted {
		t.Fatalf("got %q then %q", first.EventType, second.EventType)
	}
}
