package hostrelay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/blackhole-sh/blackhole/internal/wire"
)

// fakeRelay is a minimal relay server: on every connect it records the
// query parameters and sends a session_assigned frame with assignID, then
// reads and discards frames until the connection closes.
type fakeRelay struct {
	queries  chan url.Values
	assignID string
}

func newFakeRelay(assignID string) *fakeRelay {
	return &fakeRelay{
		queries:  make(chan url.Values, 8),
		assignID: assignID,
	}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	f.queries <- r.URL.Query()

	ctx := r.Context()
	data, err := wire.EncodeJSON(wire.Frame{Type: wire.JSONSessionAssigned, SessionID: f.assignID})
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func toWS(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnectReceivesSessionAssigned(t *testing.T) {
	relay := newFakeRelay("AB12CD")
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c := New(toWS(srv.URL), "tok")
	assigned := make(chan string, 1)
	c.OnSessionAssigned = func(id string) { assigned <- id }
	c.SetEnabled(true)
	defer c.SetEnabled(false)

	select {
	case id := <-assigned:
		if id != "AB12CD" {
			t.Fatalf("assigned id = %q, want AB12CD", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received session_assigned")
	}

	select {
	case q := <-relay.queries:
		if q.Get("role") != "horizon" {
			t.Errorf("role = %q, want horizon", q.Get("role"))
		}
		if q.Get("token") != "tok" {
			t.Errorf("token = %q, want tok", q.Get("token"))
		}
		if q.Get("session") != "" {
			t.Errorf("initial connect should omit session, got %q", q.Get("session"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed a connect")
	}

	if got := c.State(); got != Connected {
		t.Fatalf("State() = %v, want Connected", got)
	}
	if got := c.SessionID(); got != "AB12CD" {
		t.Fatalf("SessionID() = %q, want AB12CD", got)
	}
}

func TestReconnectIncludesAssignedSession(t *testing.T) {
	relay := newFakeRelay("ZZ99YY")
	mux := http.NewServeMux()
	mux.Handle("/", relay)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(toWS(srv.URL), "")
	c.backoff = NewBackoff(10*time.Millisecond, 50*time.Millisecond)
	assigned := make(chan string, 4)
	c.OnSessionAssigned = func(id string) { assigned <- id }
	c.SetEnabled(true)
	defer c.SetEnabled(false)

	<-assigned
	q1 := <-relay.queries
	if q1.Get("session") != "" {
		t.Fatalf("first connect session = %q, want empty", q1.Get("session"))
	}

	// Force a disconnect by closing the client's current socket from our side.
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "forced")
	}

	select {
	case q2 := <-relay.queries:
		if q2.Get("session") != "ZZ99YY" {
			t.Fatalf("reconnect session = %q, want ZZ99YY", q2.Get("session"))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect never observed")
	}
}

func TestSetEnabledFalseStopsLoop(t *testing.T) {
	relay := newFakeRelay("ID0001")
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c := New(toWS(srv.URL), "")
	states := make(chan State, 8)
	c.OnStateChange = func(s State) {
		select {
		case states <- s:
		default:
		}
	}
	c.SetEnabled(true)
	time.Sleep(100 * time.Millisecond)
	c.SetEnabled(false)

	if got := c.State(); got != Disabled {
		t.Fatalf("State() after SetEnabled(false) = %v, want Disabled", got)
	}

	if err := c.Send(wire.Frame{Type: wire.JSONList}); err == nil {
		t.Fatal("Send after disable should fail")
	}
}
