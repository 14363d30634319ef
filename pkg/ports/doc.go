/*
Package ports defines the driven ports (interfaces) of the Vellora onboarding engine.

These interfaces decouple the dialogue logic from external implementations, allowing
the engine to work with various storage backends, messaging transports and payment
processors.

# Key Interfaces

  - Store: durable records and activation codes with conditional writes.
  - DistributedLocker: optional cross-instance lock around a conversation.
  - Messenger: outbound replies and message deletion.
  - PaymentProcessor: hosted checkout sessions.

RunStoreContract is a reusable suite that every Store adapter runs in its tests.
*/
package ports
