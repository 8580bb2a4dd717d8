// Package peer implements the best-effort broadcast used by a consensus node
// to reach every other node. It defines how ordinals resolve to network
// addresses (a fixed base port per node, a static table, or anything that
// implements Resolver) and an HTTP transport that POSTs votes to each peer's
// /message endpoint.
//
// Sends are independent: an unreachable or refusing peer is counted and
// logged, never reported to the caller. Broadcast returns once every attempt
// has settled.
//
// Typical usage:
//
//	tr := peer.NewHTTPTransport(id, peer.Ports{Host: "localhost", Base: 3000}, nil, log)
//	acks := tr.Broadcast(ctx, consensus.Vote{Round: 0, Phase: consensus.Phase1, Value: consensus.One})
package peer
