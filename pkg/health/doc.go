/*
Package health probes the dependencies trainyard relies on but does not own.

The only probe is CoordinatorChecker, a GET against the training
coordinator when coordinator.healthPath is configured. It uses
coordinator.timeout for the request and expects coordinator.healthStatus.
A Monitor runs the checker on an interval, applies the retry threshold and
grace period from Config, and passes the result to a ReportFunc.
NewCoordinatorMonitor reports into the metrics health registry so that
/ready reflects coordinator reachability.

	metrics.RegisterCritical(metrics.ComponentCoordinator)
	mon := health.NewCoordinatorMonitor(cfg.Coordinator)
	mon.Start()
	defer mon.Stop()
*/
package health
