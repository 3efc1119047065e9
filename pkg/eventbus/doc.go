/*
Package eventbus provides a durable, at-least-once event bus for use inside
one process.

# Overview

A Bus sequences every publish as persist, forward, confirm:

 1. The message is appended to the unsent partition of every configured
    logstore.Writer. A storage failure is returned to the producer and
    nothing is forwarded.
 2. Every Forwarder is offered the message. Forwarder errors are logged
    and contained.
 3. If at least one forwarder accepted, the message is moved to the sent
    partition of every writer.

A message that was persisted but never confirmed stays in the unsent
partition. The next Initialize replays it, so receivers must be
idempotent.

# Basic Usage

	store, err := logstore.NewSQLiteWriter("events.db")
	if err != nil {
	    log.Fatal(err)
	}

	b := broker.New()
	fwd := broker.NewForwarder(b)
	_ = fwd.AddReceiver(ctx, broker.NewConsoleReceiver("console", os.Stdout),
	    message.SubscriptionSet{Name: "wf", Groups: []string{message.GroupWorkflow}})

	bus := eventbus.New(eventbus.WithLogger(logger))
	err = bus.Initialize(ctx, eventbus.Setup{
	    Writers:    []logstore.Writer{store},
	    Forwarders: []eventbus.Forwarder{fwd},
	})

	err = bus.Publish(ctx, message.New("n8n.workflow.workflowStarted",
	    message.WithPayload(map[string]any{"id": "42"})))

	defer bus.Close(ctx)

# Confirmation

The local broker forwarder accepts a message when any receiver is
running, whether or not the message matched its subscriptions. See
broker.Forwarder.

# Multiple Writers

Each writer persists independently; there is no atomicity across writers.
Queries take the union by message id, ordered by key.
*/
package eventbus
