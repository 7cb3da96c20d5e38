/*
Package dispatch talks to the external training coordinator.

Outbound, Client.StartTraining POSTs a multipart form to
<coordinator>/start_training:

	model_def      file model_def.py
	data           file dataset.csv (dataset.csv.gz when compressed)
	data_encoding  "gzip", only when compressed
	callback_url   <public url>/api/tasks/<id>/finished
	workers        JSON array of ONLINE node URLs

Dispatcher.Submit runs that call detached from the request that created the
task. There is no retry: a failed call is logged, counted in
trainyard_dispatch_total{result="failure"} and published as
task.dispatch_failed, and the task stays QUEUED until an operator acts.

Inbound, Dispatcher.ReceiveCompletion stores the coordinator's artifact and
completes the task in a single transaction.
*/
package dispatch
