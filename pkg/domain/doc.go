/*
Package domain contains the core domain models of the Vellora onboarding engine.

It defines the conversation record collected by the dialogue, the activation codes that
unlock it, the patches that move a record from one step to the next, and the inbound
events delivered by a messaging transport. This package is kept pure and free of I/O so
that the transition engine can be tested in isolation from storage.

# Key Entities

  - Record: the durable snapshot of one end user's onboarding conversation.
  - Step: the explicit position in the fixed-length dialogue (0 = awaiting code).
  - Patch: the only way a Record changes; produced by the engine, applied by the store gateway.
  - ActivationCode: a one-time code binding a purchased plan to a future conversation.
  - Event: an inbound command or text message from the messaging transport.
*/
package domain
