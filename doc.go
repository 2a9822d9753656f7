// Package pulse provides the scheduling and coordination core for
// persistent game servers: distributed locks, durable job queues with
// retry and dead-lettering, recurring schedules, and a drain-on-shutdown
// protocol, all safe to run as many identical processes sharing one
// coordination store.
//
// Pulse is designed as a library, not a service. Import it, configure a
// store, register handlers for your world ticks and maintenance sweeps,
// and start the engine.
//
// # Quick Start
//
//	eng, err := engine.Build(redisStore, pulse.DefaultConfig())
//	engine.Register(eng, job.NewDefinition("world", "economy.tick", tickEconomy))
//	eng.DeclareSchedule(schedule.Descriptor{Queue: "world", JobType: "economy.tick", Spec: "@every 5m"})
//	err = eng.Start(ctx)
//
// # Architecture
//
// Pulse follows a composable store pattern where each subsystem (job,
// schedule, dlq, lock) defines its own store interface. A single backend
// implements all of them. Backends: Redis, Postgres, and Memory.
//
// The lock manager guarantees at most one active execution of a guarded
// critical section across processes; the schedule registrar guarantees at
// most one schedule definition per (queue, job type). These are separate
// mechanisms: dedup keeps redeploys from double-registering, the lock
// keeps concurrent processes from double-running.
package pulse
