package service

import (
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// BudgetMachine returns the partner budget lifecycle.
func BudgetMachine() *workflow.Machine {
	return workflow.NewMachine(repository.EntityTypeBudget, map[string][]string{
		repository.BudgetStatusDraft: {
			repository.BudgetStatusSubmitted,
		},
		repository.BudgetStatusSubmitted: {
			repository.BudgetStatusApproved,
			repository.BudgetStatusRejected,
			repository.BudgetStatusRevisionRequested,
		},
		// Whitelisted revision edge: a revision request reopens the draft.
		repository.BudgetStatusRevisionRequested: {
			repository.BudgetStatusDraft,
		},
		repository.BudgetStatusApproved: {
			repository.BudgetStatusLocked,
		},
		repository.BudgetStatusLocked: {
			repository.BudgetStatusClosed,
		},
	})
}

// ContractMachine returns the contract lifecycle. CANCELLED is reachable from
// every pre-SIGNED state; a rejected approval returns the contract to
// GENERATED for rework.
func ContractMachine() *workflow.Machine {
	return workflow.NewMachine(repository.EntityTypeContract, map[string][]string{
		repository.ContractStatusDraft: {
			repository.ContractStatusGenerated,
			repository.ContractStatusCancelled,
		},
		repository.ContractStatusGenerated: {
			repository.ContractStatusSubmittedForApproval,
			repository.ContractStatusCancelled,
		},
		repository.ContractStatusSubmittedForApproval: {
			repository.ContractStatusApproved,
			repository.ContractStatusGenerated,
			repository.ContractStatusCancelled,
		},
		repository.ContractStatusApproved: {
			repository.ContractStatusSentForSign,
			repository.ContractStatusCancelled,
		},
		repository.ContractStatusSentForSign: {
			repository.ContractStatusSigned,
			repository.ContractStatusCancelled,
		},
		repository.ContractStatusSigned: {
			repository.ContractStatusActive,
		},
	})
}
