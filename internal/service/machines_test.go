package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grantline-io/be-grants/internal/repository"
)

func TestBudgetMachine_Edges(t *testing.T) {
	m := BudgetMachine()

	allowed := [][2]string{
		{repository.BudgetStatusDraft, repository.BudgetStatusSubmitted},
		{repository.BudgetStatusSubmitted, repository.BudgetStatusApproved},
		{repository.BudgetStatusSubmitted, repository.BudgetStatusRejected},
		{repository.BudgetStatusSubmitted, repository.BudgetStatusRevisionRequested},
		{repository.BudgetStatusRevisionRequested, repository.BudgetStatusDraft},
		{repository.BudgetStatusApproved, repository.BudgetStatusLocked},
		{repository.BudgetStatusLocked, repository.BudgetStatusClosed},
	}
	for _, edge := range allowed {
		assert.True(t, m.CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	denied := [][2]string{
		{repository.BudgetStatusDraft, repository.BudgetStatusApproved},
		{repository.BudgetStatusApproved, repository.BudgetStatusDraft},
		{repository.BudgetStatusRejected, repository.BudgetStatusDraft},
		{repository.BudgetStatusLocked, repository.BudgetStatusApproved},
		{repository.BudgetStatusClosed, repository.BudgetStatusLocked},
	}
	for _, edge := range denied {
		assert.False(t, m.CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestContractMachine_Edges(t *testing.T) {
	m := ContractMachine()

	allowed := [][2]string{
		{repository.ContractStatusDraft, repository.ContractStatusGenerated},
		{repository.ContractStatusGenerated, repository.ContractStatusSubmittedForApproval},
		{repository.ContractStatusSubmittedForApproval, repository.ContractStatusApproved},
		{repository.ContractStatusSubmittedForApproval, repository.ContractStatusGenerated},
		{repository.ContractStatusApproved, repository.ContractStatusSentForSign},
		{repository.ContractStatusSentForSign, repository.ContractStatusSigned},
		{repository.ContractStatusSigned, repository.ContractStatusActive},
	}
	for _, edge := range allowed {
		assert.True(t, m.CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	// No skipping the signing flow.
	assert.False(t, m.CanTransition(repository.ContractStatusGenerated, repository.ContractStatusSigned))
	assert.False(t, m.CanTransition(repository.ContractStatusDraft, repository.ContractStatusActive))

	// CANCELLED is reachable from every pre-SIGNED state and nowhere later.
	preSigned := []string{
		repository.ContractStatusDraft,
		repository.ContractStatusGenerated,
		repository.ContractStatusSubmittedForApproval,
		repository.ContractStatusApproved,
		repository.ContractStatusSentForSign,
	}
	for _, state := range preSigned {
		assert.True(t, m.CanTransition(state, repository.ContractStatusCancelled), "%s -> CANCELLED", state)
	}
	assert.False(t, m.CanTransition(repository.ContractStatusSigned, repository.ContractStatusCancelled))
	assert.False(t, m.CanTransition(repository.ContractStatusActive, repository.ContractStatusCancelled))
}
