// Copyright (c) Caxton Authors.
// Licensed under the MIT License.

/*
Package router implements the Caxton Core Message Router: an in-process,
single-node hub that accepts agent-to-agent messages, resolves their
destinations by identity or capability, enforces per-conversation ordering,
applies backpressure and retries under failure, and emits structured
observability events for every routing decision.

# Components

  - Registry            — authoritative agent identity, lifecycle, mailboxes
  - CapabilityIndex      — capability name -> providers, Registry-driven
  - ConversationManager  — threading, participant sets, idle expiration
  - DeliveryEngine       — destination resolution, admission, ordering
  - FailureHandler       — classification, retry scheduling, circuit breakers
  - DeadLetterQueue      — bounded ring of terminally undeliverable messages
  - Core                 — the public API: RouteMessage, agent lifecycle proxies,
                            worker pool, backpressure

None of these types reach outside the package with raw primitives: every
public signature uses the validating value types from the sibling types
package.
*/
package router
