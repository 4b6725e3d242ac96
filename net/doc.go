// Package net implements the transports nodes use to exchange consensus
// messages (Proposal, Prevote, Commit) and submitted transactions.
//
// This package contains two implementations of the Transport interface:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// TCP
//
// The TCP transport is suitable when validators are on the same local
// network, or when operators can configure their connections to avoid NAT
// issues. To use it, set the following configuration options (cf config
// package):
//
// - BindAddr: the IP:PORT of the TCP socket the node binds to.
//
// - AdvertiseAddr: (optional) the address advertised to other validators,
// when BindAddr is not itself reachable.
package net
