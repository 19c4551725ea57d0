package session

import (
	"context"
	"net/http"
	"testing"

	"pgregory.net/rapid"

	"github.com/felixgeelhaar/gatekeeper/internal/events"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

// TestLogoutIdempotenceProperty runs random sequences of logins, failed
// logins and logouts and checks that every logout leaves the same anonymous
// state with an empty store, however many times it is repeated.
func TestLogoutIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := store.NewMemoryStore()
		client := httpclient.New("http://identity.test",
			httpclient.WithLogger(log.Discard()),
			httpclient.WithDoer(httpclient.DoerFunc(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(401, `{"message":"invalid credentials"}`), nil
			})),
		)
		m := NewManager(client, st, events.NewBus(), NewDemoResolver(NewRemoteResolver(client)), WithLogger(log.Discard()))
		m.Bootstrap(context.Background())
		defer m.Close()

		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"admin", "user", "bad", "logout"}), 1, 20).Draw(t, "ops")
		ctx := context.Background()

		for _, op := range ops {
			switch op {
			case "admin":
				m.Login(ctx, "admin@qq.com", "password")
			case "user":
				m.Login(ctx, "user", "password")
			case "bad":
				before := m.Snapshot()
				res := m.Login(ctx, "nobody@x.com", "wrong")
				if res.OK() {
					t.Fatalf("bad credentials accepted")
				}
				after := m.Snapshot()
				if after.Token != before.Token || after.Phase != before.Phase {
					t.Fatalf("rejected login changed the session: %+v -> %+v", before, after)
				}
			case "logout":
				m.Logout(ctx)
				first := m.Snapshot()
				m.Logout(ctx)
				second := m.Snapshot()
				if first.Phase != PhaseAnonymous || first.Token != "" || first.User != nil {
					t.Fatalf("logout left state behind: %+v", first)
				}
				if first != second {
					t.Fatalf("second logout changed state: %+v -> %+v", first, second)
				}
				if st.Len() != 0 {
					t.Fatalf("logout left %d keys in the store", st.Len())
				}
			}
		}
	})
}
