// Copyright (c) Caxton Authors.
// Licensed under the MIT License.

/*
Package types provides the Core Message Router's domain values: opaque
identifiers and bounded scalars constructed through validating factories.

No raw string or numeric value escapes across a router component boundary;
every public router API accepts and returns the types defined here. This
package has no dependency on router, so it stays free of the cyclic-import
pressure that a shared-types package usually accumulates.

# Identifiers

  - AgentId         — opaque, minted at registration, never reused
  - CapabilityName  — validated short string from a restricted alphabet
  - MessageId       — opaque, minted by the router on admission
  - ConversationId  — opaque, present on messages that belong to a thread

# Bounded scalars

  - MailboxCapacity, QueueCapacity, MessageSize — positive counts (no upper bound is enforced)
  - Percentage — a float confined to [0.0, 1.0]
  - RetryCount — a non-negative attempt counter (no upper bound is enforced)

# Enumerations

  - Performative — the closed ACL-style set from spec.md §3 / §9
  - Priority     — Critical > High > Normal > Low
*/
package types
