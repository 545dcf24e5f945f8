// Package backup runs backup cadences against the remote environment API.
//
// The Orchestrator rotates one cadence: it destroys the previous backup
// environments of that cadence and forks the primary environment into a
// new one. The Coordinator decides which cadences are due for a pass,
// executes them one after another and persists the schedule state in a
// single write. Status projects the schedule without touching the remote
// side beyond a list call.
package backup
