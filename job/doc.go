// Package job defines the job model: lifecycle states, typed handler
// definitions, the (queue, jobType) handler registry, and the job
// persistence contract.
package job
