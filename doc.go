/*
Package vellora is an onboarding engine for a subscription service sold through
a hosted checkout and set up through a chat conversation.

# Concept

A purchase mints an activation code. Once the payment is confirmed the customer
opens a conversation with the bot, redeems the code and answers a fixed
sequence of questions: name, account handle, password, targeting preferences
and working hours. Every answer is validated, committed to a durable store
and acknowledged with the next prompt. The store is the only system of record,
so any instance can handle the next message of any conversation.

# Layout

  - pkg/domain: records, steps, codes, events and sentinel errors.
  - pkg/codes: the activation code registry.
  - pkg/validate: per-step input validators.
  - pkg/engine: the step transition table and prompt catalogue.
  - pkg/session: the store gateway with bounded retries and per-conversation locks.
  - pkg/controller: turns inbound events into commits and replies.
  - pkg/billing: plans, checkout and payment confirmation.
  - pkg/adapters: memory, SQLite, Redis, Stripe, Telegram, HTTP and MCP adapters.
  - pkg/persistence/middleware: encryption, caching, credential guard and instrumentation.
  - cmd/vellora: the command line (serve, chat, code, record, mcp, version).

# Usage

Run the HTTP server with a durable store:

	VELLORA_STORE=sqlite VELLORA_SQLITE_PATH=vellora.db vellora serve

Try the dialogue locally:

	vellora code generate grower --confirm
	vellora chat
*/
package vellora
