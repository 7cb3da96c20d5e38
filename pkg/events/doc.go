/*
Package events provides an in-process pub/sub broker for task and node
lifecycle notifications.

The scheduler publishes an event for every node mutation and every task
transition. Subscribers get a buffered channel; slow subscribers miss
events instead of stalling the broker, and Publish never blocks the
request that produced the event.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for ev := range sub {
		fmt.Println(ev.Type, ev.ID)
	}

Event types:

	task.created           task accepted by SubmitTask
	task.status_changed    any lifecycle transition
	task.dispatched        coordinator accepted the training request
	task.dispatch_failed   coordinator call failed or timed out
	task.completed         trained model stored
	task.failed            task moved to FAILED
	task.reassigned        task moved to another node
	task.deleted           task removed
	node.created, node.updated, node.deleted
*/
package events
