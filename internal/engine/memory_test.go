package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/planmentor/pkg/types"
)

func TestMemEngineLifecycle(t *testing.T) {
	eng := NewMemEngine(types.ModeAuto)
	eng.Prepare("b", 2)
	eng.Prepare("a", 1)

	live := eng.LiveStatements()
	require.Len(t, live, 2)
	assert.Equal(t, types.Fingerprint(1), live[0].Fingerprint())

	s, ok := eng.Deallocate("a")
	require.True(t, ok)
	assert.Equal(t, "a", s.Name())
	assert.Len(t, eng.LiveStatements(), 1)

	_, ok = eng.Deallocate("a")
	assert.False(t, ok)

	assert.Len(t, eng.DeallocateAll(), 1)
	assert.Empty(t, eng.LiveStatements())
}

func TestMemStatementMode(t *testing.T) {
	eng := NewMemEngine(types.ModeForceCustom)
	s := eng.PrepareQuery("q", "select 1")
	assert.Equal(t, types.ModeForceCustom, s.PlanMode())
	assert.Equal(t, types.FingerprintOf("SELECT 1"), s.Fingerprint())

	s.SetPlanMode(types.ModeForceGeneric)
	assert.Equal(t, types.ModeForceGeneric, s.PlanMode())
	assert.Equal(t, 1, s.Applies())
}

func TestMemEnginePlanCosts(t *testing.T) {
	eng := NewMemEngine(types.ModeAuto)
	s := eng.Prepare("q", 9)

	_, _, ok := eng.PlanCosts(s)
	assert.False(t, ok, "no plans yet")

	s.SetGenericCost(50)
	for i := 0; i < minCustomPlans+1; i++ {
		s.AddCustomPlan(10)
	}
	generic, custom, ok := eng.PlanCosts(s)
	require.True(t, ok)
	assert.Equal(t, 50.0, generic)
	assert.Equal(t, 10.0, custom)

	eng.ResetPlanCosts(s)
	_, _, ok = eng.PlanCosts(s)
	assert.False(t, ok)
	assert.Equal(t, 1, s.CostResets())

	s.SetGenericCost(50)
	for i := 0; i < minCustomPlans+1; i++ {
		s.AddCustomPlan(10)
	}
	s.SetPlanMode(types.ModeForceGeneric)
	_, _, ok = eng.PlanCosts(s)
	assert.False(t, ok, "forced statements are not compared")
}

func TestUsageBlocks(t *testing.T) {
	u := Usage{SharedHit: 1, SharedRead: 2, LocalHit: 3, LocalRead: 4, TempRead: 5}
	assert.Equal(t, int64(15), u.Blocks())
}
