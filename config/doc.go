// Package config defines the configuration for a node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object
// defined in this package to store and forward configuration options. On
// top of these options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key        // PKCS8/PEM Ed25519 private key (cf. tendergraph keygen).
//  validators.json // the genesis validator set: an ordered list of {pub_key, weight}.
//
// The Store package creates and manages its own subdirectories
// (blocks/, state/, meta/, index/) under DataDir.
package config
