package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/auth/mocks"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

type fixture struct {
	store   *store.Store
	manager *subscription.Manager
	server  *Server
	session *subscription.Session
}

func createTestTree(t *testing.T) *model.Tree {
	t.Helper()
	b := model.NewBuilder()
	_, err := b.Add("Vehicle.Speed", model.Metadata{Kind: model.KindSensor, Type: model.DataTypeFloat})
	require.NoError(t, err)
	_, err = b.Add("Vehicle.Cabin.Door.Row1.Left.IsOpen", model.Metadata{Kind: model.KindActuator, Type: model.DataTypeBool})
	require.NoError(t, err)
	_, err = b.Add("Vehicle.Cabin.Door.Row1.Right.IsOpen", model.Metadata{Kind: model.KindActuator, Type: model.DataTypeBool})
	require.NoError(t, err)
	_, err = b.Add("Vehicle.VehicleIdentification.VIN", model.Metadata{
		Kind: model.KindAttribute, Type: model.DataTypeString, Default: "WVW0000000001",
	})
	require.NoError(t, err)
	tree, err := b.Build()
	require.NoError(t, err)
	return tree
}

func newFixture(t *testing.T, authz auth.Authorizer) *fixture {
	t.Helper()
	st := store.New(createTestTree(t), store.Config{})
	mgr := subscription.NewManager()
	mgr.Attach(st)
	t.Cleanup(mgr.Close)
	return &fixture{
		store:   st,
		manager: mgr,
		server:  NewServer(st, mgr, Config{Authorizer: authz}),
		session: mgr.OpenSession(auth.Anonymous),
	}
}

func (f *fixture) update(t *testing.T, path string, value any) {
	t.Helper()
	_, err := f.store.UpdatePath(path, value, time.Time{})
	require.NoError(t, err)
}

func TestServerGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	t.Run("SingleLeaf", func(t *testing.T) {
		f.update(t, "Vehicle.Speed", 42.0)
		values, err := f.server.Get(ctx, f.session, "Vehicle.Speed")
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, "Vehicle.Speed", values[0].Path)
		assert.Equal(t, 42.0, values[0].Value)
	})

	t.Run("SlashSeparator", func(t *testing.T) {
		values, err := f.server.Get(ctx, f.session, "Vehicle/Speed")
		require.NoError(t, err)
		require.Len(t, values, 1)
	})

	t.Run("NoValue", func(t *testing.T) {
		_, err := f.server.Get(ctx, f.session, "Vehicle.Cabin.Door.Row1.Left.IsOpen")
		assert.ErrorIs(t, err, store.ErrNoValue)
	})

	t.Run("BranchOmitsUnset", func(t *testing.T) {
		values, err := f.server.Get(ctx, f.session, "Vehicle")
		require.NoError(t, err)
		paths := make([]string, 0, len(values))
		for _, v := range values {
			paths = append(paths, v.Path)
		}
		assert.ElementsMatch(t, []string{"Vehicle.Speed", "Vehicle.VehicleIdentification.VIN"}, paths)
	})

	t.Run("Wildcard", func(t *testing.T) {
		f.update(t, "Vehicle.Cabin.Door.Row1.Right.IsOpen", true)
		values, err := f.server.Get(ctx, f.session, "Vehicle.Cabin.Door.*.*.IsOpen")
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, "Vehicle.Cabin.Door.Row1.Right.IsOpen", values[0].Path)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.server.Get(ctx, f.session, "Vehicle.Nope")
		assert.ErrorIs(t, err, model.ErrPathNotFound)
	})

	t.Run("BadSyntax", func(t *testing.T) {
		_, err := f.server.Get(ctx, f.session, "Vehicle..Speed")
		assert.ErrorIs(t, err, model.ErrInvalidPathSyntax)
	})
}

func TestServerSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	t.Run("Writable", func(t *testing.T) {
		rec, err := f.server.Set(ctx, f.session, "Vehicle.Cabin.Door.Row1.Left.IsOpen", true, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, true, rec.Value)

		got, err := f.server.Get(ctx, f.session, "Vehicle.Cabin.Door.Row1.Left.IsOpen")
		require.NoError(t, err)
		assert.Equal(t, true, got[0].Value)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		_, err := f.server.Set(ctx, f.session, "Vehicle.Speed", 10.0, time.Time{})
		assert.ErrorIs(t, err, store.ErrReadOnly)
	})

	t.Run("Wildcard", func(t *testing.T) {
		_, err := f.server.Set(ctx, f.session, "Vehicle.Cabin.*", true, time.Time{})
		assert.ErrorIs(t, err, model.ErrInvalidPathSyntax)
	})

	t.Run("Stale", func(t *testing.T) {
		now := time.Now()
		_, err := f.server.Set(ctx, f.session, "Vehicle.Cabin.Door.Row1.Right.IsOpen", true, now)
		require.NoError(t, err)
		_, err = f.server.Set(ctx, f.session, "Vehicle.Cabin.Door.Row1.Right.IsOpen", false, now.Add(-time.Second))
		assert.ErrorIs(t, err, store.ErrRejectedStale)
	})

	t.Run("WrongType", func(t *testing.T) {
		_, err := f.server.Set(ctx, f.session, "Vehicle.Cabin.Door.Row1.Left.IsOpen", "maybe", time.Time{})
		assert.ErrorIs(t, err, model.ErrValueType)
	})
}

func TestAuthorizeEveryMatchedLeaf(t *testing.T) {
	ctx := context.Background()
	authz := mocks.NewAuthorizer(t)
	f := newFixture(t, authz)

	authz.EXPECT().
		Authorize(mock.Anything, auth.Anonymous, "Vehicle.Cabin.Door.Row1.Left.IsOpen", auth.OpSubscribe).
		Return(nil).Once()
	authz.EXPECT().
		Authorize(mock.Anything, auth.Anonymous, "Vehicle.Cabin.Door.Row1.Right.IsOpen", auth.OpSubscribe).
		Return(auth.ErrAccessDenied).Once()

	_, err := f.server.Subscribe(ctx, f.session, "Vehicle.Cabin.Door.**", filter.None())
	assert.ErrorIs(t, err, auth.ErrAccessDenied)
	assert.Equal(t, 0, f.manager.Count(), "denied subscribe must not register anything")
}

func TestAuthorizeSubscriptionOperations(t *testing.T) {
	ctx := context.Background()
	authz := mocks.NewAuthorizer(t)
	f := newFixture(t, authz)

	const left, right = "Vehicle.Cabin.Door.Row1.Left.IsOpen", "Vehicle.Cabin.Door.Row1.Right.IsOpen"
	allow := func(path string) {
		authz.EXPECT().Authorize(mock.Anything, auth.Anonymous, path, auth.OpSubscribe).Return(nil).Once()
	}
	deny := func(path string) {
		authz.EXPECT().Authorize(mock.Anything, auth.Anonymous, path, auth.OpSubscribe).Return(auth.ErrAccessDenied).Once()
	}

	allow(left)
	allow(right)
	sub, err := f.server.Subscribe(ctx, f.session, "Vehicle.Cabin.Door.**", filter.None())
	require.NoError(t, err)

	t.Run("Pause", func(t *testing.T) {
		allow(left)
		deny(right)
		assert.ErrorIs(t, f.server.Pause(ctx, f.session, sub.ID), auth.ErrAccessDenied)
		assert.Equal(t, subscription.StateActive, sub.State())
	})

	t.Run("Resume", func(t *testing.T) {
		allow(left)
		allow(right)
		require.NoError(t, f.server.Pause(ctx, f.session, sub.ID))

		deny(left)
		assert.ErrorIs(t, f.server.Resume(ctx, f.session, sub.ID), auth.ErrAccessDenied)
		assert.Equal(t, subscription.StatePaused, sub.State())
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		deny(left)
		assert.ErrorIs(t, f.server.Unsubscribe(ctx, f.session, sub.ID), auth.ErrAccessDenied)
		assert.Equal(t, 1, f.manager.Count())
	})

	t.Run("UnsubscribeAll", func(t *testing.T) {
		deny(left)
		n, err := f.server.UnsubscribeAll(ctx, f.session)
		assert.ErrorIs(t, err, auth.ErrAccessDenied)
		assert.Zero(t, n)
		assert.Equal(t, 1, f.manager.Count())

		allow(left)
		allow(right)
		n, err = f.server.UnsubscribeAll(ctx, f.session)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 0, f.manager.Count())
	})
}

func TestDeniedSetHasNoEffect(t *testing.T) {
	ctx := context.Background()
	authz := mocks.NewAuthorizer(t)
	f := newFixture(t, authz)

	authz.EXPECT().
		Authorize(mock.Anything, mock.Anything, "Vehicle.Cabin.Door.Row1.Left.IsOpen", auth.OpSet).
		Return(auth.ErrAccessDenied)

	_, err := f.server.Set(ctx, f.session, "Vehicle.Cabin.Door.Row1.Left.IsOpen", true, time.Time{})
	assert.ErrorIs(t, err, auth.ErrAccessDenied)

	h, _ := f.store.Tree().Lookup("Vehicle.Cabin.Door.Row1.Left.IsOpen")
	_, err = f.store.Read(h)
	assert.ErrorIs(t, err, store.ErrNoValue)
}

func TestResolveErrorSkipsAuthorizer(t *testing.T) {
	authz := mocks.NewAuthorizer(t)
	f := newFixture(t, authz)

	_, err := f.server.Get(context.Background(), f.session, "Vehicle.Nope")
	assert.ErrorIs(t, err, model.ErrPathNotFound)
	authz.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscribeOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	other := f.manager.OpenSession(auth.Anonymous)

	sub, err := f.server.Subscribe(ctx, f.session, "Vehicle.Speed", filter.None())
	require.NoError(t, err)

	assert.ErrorIs(t, f.server.Unsubscribe(ctx, other, sub.ID), subscription.ErrSubscriptionNotFound)
	assert.ErrorIs(t, f.server.Pause(ctx, other, sub.ID), subscription.ErrSubscriptionNotFound)
	assert.Equal(t, subscription.StateActive, sub.State())

	require.NoError(t, f.server.Pause(ctx, f.session, sub.ID))
	require.NoError(t, f.server.Resume(ctx, f.session, sub.ID))
	require.NoError(t, f.server.Unsubscribe(ctx, f.session, sub.ID))
	assert.ErrorIs(t, f.server.Unsubscribe(ctx, f.session, sub.ID), subscription.ErrSubscriptionNotFound)
}

func TestHandleRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.update(t, "Vehicle.Speed", 88.0)

	t.Run("GetLeaf", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionGet, RequestID: "1", Path: "Vehicle.Speed",
		})
		require.True(t, resp.IsSuccess(), "error: %v", resp.Error)
		assert.Equal(t, "1", resp.RequestID)
		assert.Equal(t, wire.ActionGet, resp.Action)
		assert.Equal(t, 88.0, resp.Value)
		assert.NotZero(t, resp.Timestamp)
	})

	t.Run("GetBranch", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionGet, RequestID: "2", Path: "Vehicle",
		})
		require.True(t, resp.IsSuccess())
		values, ok := resp.Value.(map[string]any)
		require.True(t, ok, "got %T", resp.Value)
		assert.Equal(t, 88.0, values["Vehicle.Speed"])
		assert.Equal(t, "WVW0000000001", values["Vehicle.VehicleIdentification.VIN"])
	})

	t.Run("GetNoValue", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionGet, RequestID: "3", Path: "Vehicle.Cabin.Door.Row1.Left.IsOpen",
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.NumberNotFound, resp.Error.Number)
		assert.Equal(t, wire.ReasonNoValue, resp.Error.Reason)
	})

	t.Run("SetReadOnly", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionSet, RequestID: "4", Path: "Vehicle.Speed", Value: 1.0,
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.NumberForbidden, resp.Error.Number)
		assert.Equal(t, wire.ReasonReadOnly, resp.Error.Reason)
	})

	t.Run("SubscribeBadFilter", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionSubscribe, RequestID: "5", Path: "Vehicle.Speed",
			Filters: &wire.Filters{Curation: true, Range: &wire.RangeFilter{}},
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.ReasonFilterInvalid, resp.Error.Reason)
	})

	t.Run("SubscribeUnsubscribe", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionSubscribe, RequestID: "6", Path: "Vehicle.Speed",
		})
		require.True(t, resp.IsSuccess())
		require.NotEmpty(t, resp.SubscriptionID)

		resp = f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionUnsubscribe, RequestID: "7", SubscriptionID: resp.SubscriptionID,
		})
		require.True(t, resp.IsSuccess())

		resp = f.server.HandleRequest(ctx, f.session, &wire.Request{
			Action: wire.ActionUnsubscribe, RequestID: "8", SubscriptionID: resp.SubscriptionID,
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.ReasonInvalidSubscriptionID, resp.Error.Reason)
	})

	t.Run("Invalid", func(t *testing.T) {
		resp := f.server.HandleRequest(ctx, f.session, &wire.Request{Action: wire.ActionGet, RequestID: "9"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.NumberBadRequest, resp.Error.Number)
		assert.Equal(t, "9", resp.RequestID)
	})
}

type fakeAuthenticator struct {
	identity auth.Identity
	err      error
}

func (a fakeAuthenticator) Authenticate(string) (auth.Identity, error) { return a.identity, a.err }

func TestHandleRequestAuthenticates(t *testing.T) {
	ctx := context.Background()
	st := store.New(createTestTree(t), store.Config{})
	mgr := subscription.NewManager()
	t.Cleanup(mgr.Close)

	grant, err := auth.ParseGrant("get:Vehicle.Speed")
	require.NoError(t, err)
	alice := auth.Identity{Subject: "alice", Grants: []auth.Grant{grant}}

	t.Run("Valid", func(t *testing.T) {
		srv := NewServer(st, mgr, Config{
			Authorizer:    auth.NewPolicy(),
			Authenticator: fakeAuthenticator{identity: alice},
		})
		sess := mgr.OpenSession(auth.Anonymous)

		resp := srv.HandleRequest(ctx, sess, &wire.Request{
			Action: wire.ActionGet, RequestID: "1", Path: "Vehicle.VehicleIdentification.VIN", Authorization: "token",
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.ReasonForbidden, resp.Error.Reason)
		assert.Equal(t, "alice", sess.Identity().Subject)
	})

	t.Run("Expired", func(t *testing.T) {
		srv := NewServer(st, mgr, Config{Authenticator: fakeAuthenticator{err: auth.ErrExpiredToken}})
		sess := mgr.OpenSession(auth.Anonymous)

		resp := srv.HandleRequest(ctx, sess, &wire.Request{
			Action: wire.ActionGet, RequestID: "1", Path: "Vehicle.Speed", Authorization: "token",
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, wire.NumberUnauthorized, resp.Error.Number)
		assert.True(t, sess.Identity().IsAnonymous())
	})
}

// loopback connects a Client to a Server in memory.
type loopback struct {
	t       *testing.T
	server  *Server
	session *subscription.Session
	client  *Client
	codec   wire.Codec

	mu sync.Mutex
}

func (l *loopback) Send(data []byte) error {
	req, err := wire.DecodeRequest(l.codec, data)
	if err != nil {
		return err
	}
	resp := l.server.HandleRequest(context.Background(), l.session, req)
	out, err := wire.EncodeResponse(l.codec, resp)
	if err != nil {
		return err
	}
	go l.deliver(out)
	return nil
}

func (l *loopback) deliver(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.client.HandleMessage(data); err != nil && !errors.Is(err, ErrUnexpectedReply) {
		l.t.Errorf("HandleMessage: %v", err)
	}
}

// pump forwards session deliveries to the client until ctx ends.
func (l *loopback) pump(ctx context.Context) {
	for {
		d, err := l.session.Next(ctx)
		if err != nil {
			return
		}
		data, err := wire.EncodeNotification(l.codec, wire.NotificationFrom(d))
		if err != nil {
			l.t.Errorf("EncodeNotification: %v", err)
			return
		}
		l.deliver(data)
	}
}

func newLoopback(t *testing.T, f *fixture, codec wire.Codec) *loopback {
	l := &loopback{t: t, server: f.server, session: f.session, codec: codec}
	l.client = NewClient(l, codec)
	l.client.SetTimeout(2 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.pump(ctx)
	return l
}

func TestClientRoundTrip(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.CBOR} {
		t.Run(codec.Subprotocol(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, nil)
			l := newLoopback(t, f, codec)
			client := l.client
			defer client.Close()

			f.update(t, "Vehicle.Speed", 50.0)
			value, ts, err := client.Get(ctx, "Vehicle.Speed")
			require.NoError(t, err)
			assert.EqualValues(t, 50, value)
			assert.False(t, ts.IsZero())

			err = client.Set(ctx, "Vehicle.Speed", 1.0)
			var we *wire.Error
			require.ErrorAs(t, err, &we)
			assert.Equal(t, wire.ReasonReadOnly, we.Reason)

			require.NoError(t, client.Set(ctx, "Vehicle.Cabin.Door.Row1.Left.IsOpen", true))

			stream, err := client.Subscribe(ctx, "Vehicle.Speed", filter.MinChange(5))
			require.NoError(t, err)
			assert.NotEmpty(t, stream.ID)

			f.update(t, "Vehicle.Speed", 51.0)
			f.update(t, "Vehicle.Speed", 60.0)

			select {
			case n := <-stream.C():
				assert.Equal(t, stream.ID, n.SubscriptionID)
				assert.Equal(t, "Vehicle.Speed", n.Path)
				assert.EqualValues(t, 51, n.Value, "first value always delivers")
			case <-time.After(2 * time.Second):
				t.Fatal("no notification")
			}
			select {
			case n := <-stream.C():
				assert.EqualValues(t, 60, n.Value)
			case <-time.After(2 * time.Second):
				t.Fatal("no second notification")
			}

			require.NoError(t, stream.Unsubscribe(ctx))
			_, open := <-stream.C()
			assert.False(t, open, "stream closes on unsubscribe")
			assert.Equal(t, 0, f.manager.Count())
		})
	}
}

func TestClientUnsubscribeAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	client := newLoopback(t, f, wire.JSON).client
	defer client.Close()

	s1, err := client.Subscribe(ctx, "Vehicle.Speed", filter.None())
	require.NoError(t, err)
	s2, err := client.Subscribe(ctx, "Vehicle.Cabin.**", filter.Curation())
	require.NoError(t, err)
	assert.Equal(t, 2, f.manager.Count())

	require.NoError(t, client.UnsubscribeAll(ctx))
	assert.Equal(t, 0, f.manager.Count())
	_, open := <-s1.C()
	assert.False(t, open)
	_, open = <-s2.C()
	assert.False(t, open)
}

type blackhole struct{}

func (blackhole) Send([]byte) error { return nil }

func TestClientTimeoutAndClose(t *testing.T) {
	client := NewClient(blackhole{}, nil)
	client.SetTimeout(20 * time.Millisecond)

	_, _, err := client.Get(context.Background(), "Vehicle.Speed")
	assert.ErrorIs(t, err, ErrRequestTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = client.Get(ctx, "Vehicle.Speed")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, client.Close())
	_, _, err = client.Get(context.Background(), "Vehicle.Speed")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClientUnexpectedReply(t *testing.T) {
	client := NewClient(blackhole{}, nil)
	err := client.HandleResponse(&wire.Response{Action: wire.ActionGet, RequestID: "nope"})
	assert.ErrorIs(t, err, ErrUnexpectedReply)

	var got *wire.Notification
	client.SetNotificationHandler(func(n *wire.Notification) { got = n })
	client.HandleNotification(&wire.Notification{SubscriptionID: "x"})
	require.NotNil(t, got)
	assert.Equal(t, "x", got.SubscriptionID)
}
