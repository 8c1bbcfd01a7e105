// Package retrypolicy resolves per-type delivery retry policies.
//
// A Policy bundles the maximum attempt count, the exponential backoff base,
// and the queue priority for one notification type. The Resolver is built
// once at startup from configuration and consulted on every delivery
// decision; types without an explicit entry get the documented default of
// {3 attempts, 5s backoff, normal priority}.
package retrypolicy
