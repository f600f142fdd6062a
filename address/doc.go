// Package address parses and renders resource addresses.
//
// An address is a colon-separated list of segments naming a path through the
// resource tree, optionally ending in a semantic version and a sub-path:
//
//	localhost
//	localhost:my-files:/index.html
//	localhost:config:1.0.0:/routes.conf
//
// At creation time the final segment may carry a kind tag:
//
//	localhost:my-app<App>
//
// Property targets used for configuration append "::key":
//
//	localhost:my-app::config
//
// Parsing is side-effect free and total: every input yields either an
// Address or a malformed_address error. String renders the canonical form and
// Parse(a.String()) reproduces a.
package address
