// Package transitions holds the legal status edges for tasks, escrow
// transactions and disputes. Validation is pure: no I/O and no role checks.
package transitions

import (
	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
)

var taskEdges = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusOpen:       {models.TaskStatusAccepted, models.TaskStatusCancelled},
	models.TaskStatusAccepted:   {models.TaskStatusInProgress, models.TaskStatusCancelled},
	models.TaskStatusInProgress: {models.TaskStatusSubmitted},
	// completed straight from submitted is auto-release or an admin force.
	models.TaskStatusSubmitted: {models.TaskStatusApproved, models.TaskStatusDisputed, models.TaskStatusCompleted},
	models.TaskStatusApproved:  {models.TaskStatusCompleted},
	models.TaskStatusDisputed:  {models.TaskStatusCompleted, models.TaskStatusCancelled},
	models.TaskStatusCompleted: nil,
	models.TaskStatusCancelled: nil,
}

// in_escrow -> refunded exists only for cancelling a task before submission.
var escrowEdges = map[models.EscrowStatus][]models.EscrowStatus{
	models.EscrowStatusPending:  {models.EscrowStatusInEscrow},
	models.EscrowStatusInEscrow: {models.EscrowStatusReleased, models.EscrowStatusDisputed, models.EscrowStatusRefunded},
	models.EscrowStatusDisputed: {models.EscrowStatusReleased, models.EscrowStatusRefunded},
	models.EscrowStatusReleased: nil,
	models.EscrowStatusRefunded: nil,
}

var disputeEdges = map[models.DisputeStatus][]models.DisputeStatus{
	models.DisputeStatusOpen:        {models.DisputeStatusUnderReview, models.DisputeStatusEscalated, models.DisputeStatusResolved},
	models.DisputeStatusUnderReview: {models.DisputeStatusEscalated, models.DisputeStatusResolved},
	models.DisputeStatusEscalated:   {models.DisputeStatusResolved},
	models.DisputeStatusResolved:    nil,
}

// Task validates a task status change.
func Task(from, to models.TaskStatus) error {
	return check(taskEdges, from, to)
}

// Escrow validates an escrow status change.
func Escrow(from, to models.EscrowStatus) error {
	return check(escrowEdges, from, to)
}

// Dispute validates a dispute status change.
func Dispute(from, to models.DisputeStatus) error {
	return check(disputeEdges, from, to)
}

// TaskStates lists every task status in the table.
func TaskStates() []models.TaskStatus { return keys(taskEdges) }

// EscrowStates lists every escrow status in the table.
func EscrowStates() []models.EscrowStatus { return keys(escrowEdges) }

func check[S ~string](edges map[S][]S, from, to S) error {
	for _, next := range edges[from] {
		if next == to {
			return nil
		}
	}
	return apperr.InvalidTransition(string(from), string(to))
}

func keys[S ~string](edges map[S][]S) []S {
	out := make([]S, 0, len(edges))
	for s := range edges {
		out = append(out, s)
	}
	return out
}
