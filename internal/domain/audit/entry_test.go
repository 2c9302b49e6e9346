package audit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	accountID := uuid.New()
	before := map[string]string{"status": "ACTIVE"}
	after := map[string]string{"status": "FROZEN"}

	e, err := NewEntry(ActionAccountFrozen, AdminActor("ops-1"), "Account", accountID, before, after, " chargeback ")
	require.NoError(t, err)

	assert.Equal(t, ActorTypeAdmin, e.ActorType)
	assert.Equal(t, "chargeback", e.Reason)
	assert.JSONEq(t, `{"status":"ACTIVE"}`, string(e.Before))
	assert.JSONEq(t, `{"status":"FROZEN"}`, string(e.After))
}

func TestNewEntry_Validation(t *testing.T) {
	_, err := NewEntry(ActionAccountFrozen, Actor{}, "Account", uuid.New(), nil, nil, "")
	assert.Error(t, err)

	_, err = NewEntry(ActionAccountFrozen, SystemActor("scheduler"), "Account", uuid.Nil, nil, nil, "")
	assert.Error(t, err)

	e, err := NewEntry(ActionReconciliationCompleted, SystemActor("reconciliation"), "ReconciliationRun", uuid.New(), nil, nil, "")
	require.NoError(t, err)
	assert.Nil(t, e.Before)
	assert.Equal(t, "system:reconciliation", e.ActorID)
}
