// Package notifier renders timer messages and delivers them to chat channels.
//
// # Sink
//
// A Sink is the only delivery contract the firing scheduler knows about:
// Send(ctx, tenant, channelID, text). Send is synchronous so the caller can
// mark the timer fired or failed from its result; there is no queue and no
// retry inside the notifier.
//
// # Service
//
// Service is the production Sink. It resolves the channel id to a chat
// target, waits on a shared token-bucket limiter, bounds the transport call
// with a timeout and publishes a notification event either way.
//
// # Templates
//
// Render maps a timer to its message text. Templates are keyed by timer type
// and render the fire time in the tenant display timezone.
package notifier
