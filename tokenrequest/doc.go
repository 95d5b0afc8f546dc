// Package tokenrequest handles the hosted consent flow's redirect
// parameters: building the request URL that carries a CSRF-bound state, and
// verifying the signed callback the platform redirects back with.
//
// The state parameter embeds hash(csrfToken) so the verifying party can
// detect a forged or replayed callback, and the platform signs
// {tokenId, state} so the parameters cannot be tampered with in transit.
package tokenrequest
