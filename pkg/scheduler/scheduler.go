// Package scheduler implements C7, the task DAG scheduler: it computes the
// runnable frontier of a run's tasks from their dependencies and current
// status. The scheduler never mutates anything; it is a pure function of
// the task list handed to it.
package scheduler

import "github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/datastore"

// Runnable computes, in creation order, every task whose status is queued
// or retry and whose depends_on set is fully satisfied by completed tasks
// in the same run (spec §4.7). tasks must already be ordered by creation
// time; Runnable does not re-sort, preserving the caller's stable order.
func Runnable(tasks []datastore.Task) []datastore.Task {
	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == datastore.TaskCompleted {
			completed[t.TaskKey] = true
		}
	}

	var frontier []datastore.Task
	for _, t := range tasks {
		if t.Status != datastore.TaskQueued && t.Status != datastore.TaskRetry {
			continue
		}
		if satisfied(t.DependsOn, completed) {
			frontier = append(frontier, t)
		}
	}
	return frontier
}

func satisfied(dependsOn []string, completed map[string]bool) bool {
	for _, dep := range dependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// PendingCount returns the number of tasks whose status is not completed,
// used by the outer loop (spec §4.7 "Termination") to decide whether a run
// with an empty frontier is terminal-completed or terminal-failed.
func PendingCount(tasks []datastore.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status != datastore.TaskCompleted {
			n++
		}
	}
	return n
}
