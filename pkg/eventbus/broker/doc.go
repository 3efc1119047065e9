// Package broker routes messages to in-process receivers.
//
// A Broker holds named receivers, each with one or more subscription sets.
// AddMessage matches a message against every live receiver and hands its
// serialized form to the matched ones. Each receiver owns one worker
// running on its own goroutine and fed through a buffered mailbox, so a
// slow or failing receiver never blocks delivery to the others.
//
// Basic usage:
//
//	b := broker.New(broker.WithLogger(logger))
//	err := b.AddReceiver(ctx, broker.NewConsoleReceiver("console", os.Stdout),
//	    message.SubscriptionSet{Name: "wf", Groups: []string{message.GroupWorkflow}})
//
//	res, err := b.AddMessage(ctx, msg)
//	// res.Processed: live receivers considered
//	// res.Sent:      receivers the message was delivered to
//
// Receivers see messages in publish order. No ordering holds across
// receivers.
//
// Terminate and TerminateAll kill workers at once and drop what is
// queued. Stop and StopAll deliver the queue first and are the shutdown
// path for events the bus has already confirmed.
package broker
