// Package interaction implements the VISS request dispatcher.
//
// The Server answers the VISS actions of one session:
//
//   - Get: read the value of a leaf, or of every leaf below a branch
//   - Set: write a writable leaf
//   - Subscribe: register for value updates of the matched leaves
//   - Unsubscribe, UnsubscribeAll: cancel subscriptions of the session
//   - Pause, Resume: suspend and restart deliveries
//
// Every request is processed in the same order: the path expression is
// resolved against the signal tree, every matched leaf is authorized for
// the operation, and only then the store or the subscription manager is
// involved. Operations on an existing subscription re-authorize the leaves
// it covers for subscribe. A request that fails any step has no effect.
//
// # Server Usage
//
//	server := interaction.NewServer(st, manager, interaction.Config{
//	    Authorizer: policy,
//	})
//	sess := manager.OpenSession(auth.Anonymous)
//	resp := server.HandleRequest(ctx, sess, req)
//
// # Client Usage
//
// The Client correlates requests and responses by request id over any
// transport implementing Sender:
//
//	client := interaction.NewClient(sender)
//	value, err := client.Get(ctx, "Vehicle.Speed")
//	stream, err := client.Subscribe(ctx, "Vehicle.Speed", filter.MinChange(5))
//	for n := range stream.C() {
//	    ...
//	}
package interaction
