// Package webhooks delivers operational alerts to HTTP endpoints.
//
// The security monitor hands threshold alerts to a Notifier (it implements
// audit.Alerter), which posts them to every configured URL from a small
// worker pool:
//
//	notifier, err := webhooks.NewNotifier(ctx, webhooks.DefaultConfig(url), logger, metrics)
//	monitor.WithAlerter(notifier)
//
// Payloads are either the Event JSON or a Slack message. With a secret
// configured each request carries
//
//	X-Tenantguard-Signature: sha256=<hex hmac of the body>
//
// which receivers check with VerifySignature.
//
// Network errors, 429 and 5xx responses are retried with exponential
// backoff; other statuses fail immediately. Each endpoint is rate limited
// so an alert storm cannot flood a chat channel.
package webhooks
