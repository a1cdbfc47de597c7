// Package subscription implements subscription management for VISS sessions.
//
// A subscription is owned by exactly one Session and covers a fixed set of
// leaves resolved at subscribe time. Each covered leaf has its own filter
// evaluator, so a subscription on several leaves decides per leaf.
//
// # States
//
//	PENDING -> ACTIVE <-> PAUSED
//	              |          |
//	              v          v
//	        CANCELLED or EXPIRED   (terminal)
//
// A subscription becomes CANCELLED on unsubscribe or when its session is
// closed. It becomes EXPIRED when its session stays detached (transport
// link lost) for longer than the grace period. Terminal subscriptions are
// purged; their ids are never reused.
//
// # Delivery
//
// The Manager listens for store changes. For every ACTIVE subscription that
// covers the changed leaf and whose filter accepts the new record, a
// Delivery is put on the owning session's queue. The transport drains the
// queue with Session.Next.
//
// Deliveries of one subscription leave the queue in write order of each
// leaf. There is no ordering guarantee across leaves.
//
// # Back-pressure
//
// Session queues are bounded and enqueue never blocks. When a queue is
// full, the oldest queued delivery of the same subscription is dropped (or
// the incoming delivery if that subscription has none queued). The
// subscription that lost a delivery is marked with a gap: Gap and Dropped
// report it, and its next delivery carries Gap=true.
//
// # Session Resume
//
// Detach keeps the session and its subscriptions alive for the grace
// period. Deliveries keep queueing while detached. Attach within the grace
// period resumes the session where it left off.
package subscription
