package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/metrics"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
	"github.com/viss-protocol/viss-go/pkg/subscription"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// Authenticator turns the authorization token of a request into an
// identity.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Config configures a Server.
type Config struct {
	// Authorizer decides access per leaf. Nil allows everything.
	Authorizer auth.Authorizer

	// Authenticator validates request tokens. Nil ignores the
	// authorization field.
	Authenticator Authenticator

	// Clock returns the current time. Nil uses time.Now.
	Clock func() time.Time

	// Logger for debug output. Nil disables logging.
	Logger *slog.Logger

	// Metrics records request counts and latencies. Nil disables metrics.
	Metrics *metrics.Metrics
}

// Value is one leaf value returned by Get.
type Value struct {
	Path string
	store.Record
}

// Server dispatches VISS requests to the store and the subscription
// manager.
type Server struct {
	tree    *model.Tree
	store   *store.Store
	manager *subscription.Manager

	authz  auth.Authorizer
	authn  Authenticator
	clock  func() time.Time
	logger *slog.Logger
	metric *metrics.Metrics
}

// NewServer creates a dispatcher over st and manager.
func NewServer(st *store.Store, manager *subscription.Manager, config Config) *Server {
	s := &Server{
		tree:    st.Tree(),
		store:   st,
		manager: manager,
		authz:   config.Authorizer,
		authn:   config.Authenticator,
		clock:   config.Clock,
		logger:  config.Logger,
		metric:  config.Metrics,
	}
	if s.authz == nil {
		s.authz = auth.AllowAll{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Get returns the values of the leaves matched by path. A single exact
// leaf without a value fails with store.ErrNoValue; for branches and
// wildcards such leaves are omitted.
func (s *Server) Get(ctx context.Context, sess *subscription.Session, path string) ([]Value, error) {
	e, leaves, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, sess, leaves, auth.OpGet); err != nil {
		return nil, err
	}

	single := !e.IsWildcard() && len(leaves) == 1 && s.tree.Path(leaves[0]) == e.String()
	values := make([]Value, 0, len(leaves))
	for _, h := range leaves {
		rec, err := s.store.Read(h)
		if err != nil {
			if single {
				return nil, fmt.Errorf("%w: %s", err, s.tree.Path(h))
			}
			continue
		}
		values = append(values, Value{Path: s.tree.Path(h), Record: rec})
	}
	return values, nil
}

// Set writes value to the leaf at path. A zero ts uses the store clock.
func (s *Server) Set(ctx context.Context, sess *subscription.Session, path string, value any, ts time.Time) (store.Record, error) {
	e, err := model.ParseExpression(path)
	if err != nil {
		return store.Record{}, err
	}
	if e.IsWildcard() {
		return store.Record{}, fmt.Errorf("%w: wildcard in set: %s", model.ErrInvalidPathSyntax, path)
	}
	h, ok := s.tree.Lookup(e.String())
	if !ok {
		return store.Record{}, fmt.Errorf("%w: %s", model.ErrPathNotFound, path)
	}
	if err := s.authorize(ctx, sess, []model.Handle{h}, auth.OpSet); err != nil {
		return store.Record{}, err
	}
	return s.store.Set(h, value, ts)
}

// Subscribe registers a subscription of sess on every leaf matched by path.
func (s *Server) Subscribe(ctx context.Context, sess *subscription.Session, path string, f filter.Filter) (*subscription.Subscription, error) {
	e, leaves, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, sess, leaves, auth.OpSubscribe); err != nil {
		return nil, err
	}
	return s.manager.Subscribe(sess, e.String(), leaves, f)
}

// Unsubscribe cancels a subscription owned by sess.
func (s *Server) Unsubscribe(ctx context.Context, sess *subscription.Session, id string) error {
	if err := s.authorizeOwned(ctx, sess, id); err != nil {
		return err
	}
	return s.manager.Unsubscribe(id)
}

// UnsubscribeAll cancels every subscription of sess and returns the number
// cancelled. If any subscription is denied, nothing is cancelled.
func (s *Server) UnsubscribeAll(ctx context.Context, sess *subscription.Session) (int, error) {
	for _, sub := range sess.Subscriptions() {
		if err := s.authorize(ctx, sess, sub.Handles(), auth.OpSubscribe); err != nil {
			return 0, err
		}
	}
	return s.manager.UnsubscribeAll(sess), nil
}

// Pause suspends deliveries of a subscription owned by sess.
func (s *Server) Pause(ctx context.Context, sess *subscription.Session, id string) error {
	if err := s.authorizeOwned(ctx, sess, id); err != nil {
		return err
	}
	return s.manager.Pause(id)
}

// Resume restarts deliveries of a paused subscription owned by sess.
func (s *Server) Resume(ctx context.Context, sess *subscription.Session, id string) error {
	if err := s.authorizeOwned(ctx, sess, id); err != nil {
		return err
	}
	return s.manager.Resume(id)
}

// HandleRequest processes one wire request and returns its response.
func (s *Server) HandleRequest(ctx context.Context, sess *subscription.Session, req *wire.Request) *wire.Response {
	start := time.Now()
	resp, err := s.handle(ctx, sess, req)
	if err != nil {
		resp = wire.NewFailure(req, err, s.clock())
	}

	s.metric.Request(req.Action.String(), wire.Status(err), time.Since(start).Seconds())
	if err != nil {
		s.debugLog("request failed",
			"session", sess.ID(),
			"action", req.Action,
			"requestId", req.RequestID,
			"path", req.Path,
			"error", err)
	}
	return resp
}

func (s *Server) handle(ctx context.Context, sess *subscription.Session, req *wire.Request) (*wire.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Authorization != "" && s.authn != nil {
		id, err := s.authn.Authenticate(req.Authorization)
		if err != nil {
			return nil, err
		}
		sess.SetIdentity(id)
	}

	switch req.Action {
	case wire.ActionGet:
		return s.handleGet(ctx, sess, req)
	case wire.ActionSet:
		return s.handleSet(ctx, sess, req)
	case wire.ActionSubscribe:
		return s.handleSubscribe(ctx, sess, req)
	case wire.ActionUnsubscribe:
		if err := s.Unsubscribe(ctx, sess, req.SubscriptionID); err != nil {
			return nil, err
		}
		return s.subscriptionResponse(req, req.SubscriptionID), nil
	case wire.ActionUnsubscribeAll:
		n, err := s.UnsubscribeAll(ctx, sess)
		if err != nil {
			return nil, err
		}
		s.debugLog("unsubscribed all", "session", sess.ID(), "count", n)
		return wire.NewSuccess(req, s.clock()), nil
	case wire.ActionPause:
		if err := s.Pause(ctx, sess, req.SubscriptionID); err != nil {
			return nil, err
		}
		return s.subscriptionResponse(req, req.SubscriptionID), nil
	case wire.ActionResume:
		if err := s.Resume(ctx, sess, req.SubscriptionID); err != nil {
			return nil, err
		}
		return s.subscriptionResponse(req, req.SubscriptionID), nil
	default:
		return nil, fmt.Errorf("%w: unsupported action %s", wire.ErrInvalidMessage, req.Action)
	}
}

// handleGet answers a single exact leaf with its value and write time, and
// anything else with a path-to-value map and the newest write time.
func (s *Server) handleGet(ctx context.Context, sess *subscription.Session, req *wire.Request) (*wire.Response, error) {
	values, err := s.Get(ctx, sess, req.Path)
	if err != nil {
		return nil, err
	}

	resp := wire.NewSuccess(req, s.clock())
	if h, ok := s.tree.Lookup(req.Path); ok && s.tree.MustNode(h).IsLeaf() && len(values) == 1 {
		resp.Value = values[0].Value
		resp.Timestamp = wire.FromTime(values[0].Timestamp)
		return resp, nil
	}

	out := make(map[string]any, len(values))
	var newest time.Time
	for _, v := range values {
		out[v.Path] = v.Value
		if v.Timestamp.After(newest) {
			newest = v.Timestamp
		}
	}
	resp.Value = out
	if !newest.IsZero() {
		resp.Timestamp = wire.FromTime(newest)
	}
	return resp, nil
}

func (s *Server) handleSet(ctx context.Context, sess *subscription.Session, req *wire.Request) (*wire.Response, error) {
	rec, err := s.Set(ctx, sess, req.Path, req.Value, req.Timestamp.Time())
	if err != nil {
		return nil, err
	}
	return wire.NewSuccess(req, rec.Timestamp), nil
}

func (s *Server) handleSubscribe(ctx context.Context, sess *subscription.Session, req *wire.Request) (*wire.Response, error) {
	f, err := req.Filters.Filter()
	if err != nil {
		return nil, err
	}
	sub, err := s.Subscribe(ctx, sess, req.Path, f)
	if err != nil {
		return nil, err
	}
	return s.subscriptionResponse(req, sub.ID), nil
}

func (s *Server) subscriptionResponse(req *wire.Request, id string) *wire.Response {
	resp := wire.NewSuccess(req, s.clock())
	resp.SubscriptionID = id
	return resp
}

// resolve parses path and returns the matched leaves.
func (s *Server) resolve(path string) (model.Expression, []model.Handle, error) {
	e, err := model.ParseExpression(path)
	if err != nil {
		return model.Expression{}, nil, err
	}
	matched, err := s.tree.ResolveExpression(e)
	if err != nil {
		return model.Expression{}, nil, err
	}
	var leaves []model.Handle
	seen := make(map[model.Handle]struct{}, len(matched))
	for _, h := range matched {
		for _, leaf := range s.tree.Leaves(h) {
			if _, dup := seen[leaf]; dup {
				continue
			}
			seen[leaf] = struct{}{}
			leaves = append(leaves, leaf)
		}
	}
	return e, leaves, nil
}

// authorize checks every leaf before anything is read, written or
// subscribed. The leaf access mode is checked first, then the authorizer.
func (s *Server) authorize(ctx context.Context, sess *subscription.Session, leaves []model.Handle, op auth.Operation) error {
	id := sess.Identity()
	for _, h := range leaves {
		node := s.tree.MustNode(h)
		access := node.Metadata().Access
		switch op {
		case auth.OpGet:
			if !access.CanRead() {
				return fmt.Errorf("%w: %s is not readable", auth.ErrAccessDenied, node.Path())
			}
		case auth.OpSet:
			if !access.CanWrite() {
				return fmt.Errorf("%w: %s", store.ErrReadOnly, node.Path())
			}
		case auth.OpSubscribe:
			if !access.CanSubscribe() {
				return fmt.Errorf("%w: %s is not subscribable", auth.ErrAccessDenied, node.Path())
			}
		}
		if err := s.authz.Authorize(ctx, id, node.Path(), op); err != nil {
			return err
		}
	}
	return nil
}

// owned returns a subscription of sess. Subscriptions of other sessions
// are reported as not found.
func (s *Server) owned(sess *subscription.Session, id string) (*subscription.Subscription, error) {
	sub, ok := sess.Subscription(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
	}
	return sub, nil
}

// authorizeOwned checks that sess owns id and may still subscribe to every
// leaf it covers.
func (s *Server) authorizeOwned(ctx context.Context, sess *subscription.Session, id string) error {
	sub, err := s.owned(sess, id)
	if err != nil {
		return err
	}
	return s.authorize(ctx, sess, sub.Handles(), auth.OpSubscribe)
}

// debugLog logs a debug message if logging is enabled.
func (s *Server) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
