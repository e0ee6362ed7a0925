// Package job runs one lead generation job: fetch, dedupe and cap, verify, persist.
//
// The Orchestrator reports progress exclusively through a progress.Channel. Every
// run ends with exactly one Terminal event, whether it succeeds, finds nothing, or
// fails. Lifecycle milestones, job store updates and the completion notice are side
// effects that never influence the event stream.
package job
