package agentconfig

import (
	"testing"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsPass(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	c := Default()
	c.CheckInterval = 0
	err := Validate(c)
	require.Error(t, err)

	var ae *agenterrors.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, agenterrors.KindInvalidConfig, ae.Kind)
}

func TestMergePreservesUnspecifiedFields(t *testing.T) {
	base := Default()
	autoUpdate := true
	patched := Merge(base, Patch{AutoUpdate: &autoUpdate})

	assert.True(t, patched.AutoUpdate)
	assert.Equal(t, base.CheckInterval, patched.CheckInterval)
	assert.Equal(t, base.EventBufferSize, patched.EventBufferSize)
}

func TestMergeAllFields(t *testing.T) {
	ci := 45 * time.Second
	ui := 600 * time.Second
	au := true
	cl := false
	lf := "com.example=1"
	ebs := 2048
	mpu := 3

	patched := Merge(Default(), Patch{
		CheckInterval:      &ci,
		UpdateInterval:     &ui,
		AutoUpdate:         &au,
		Cleanup:            &cl,
		LabelFilter:        &lf,
		EventBufferSize:    &ebs,
		MaxParallelUpdates: &mpu,
	})

	assert.Equal(t, ci, patched.CheckInterval)
	assert.Equal(t, ui, patched.UpdateInterval)
	assert.Equal(t, au, patched.AutoUpdate)
	assert.Equal(t, cl, patched.Cleanup)
	assert.Equal(t, lf, patched.LabelFilter)
	assert.Equal(t, ebs, patched.EventBufferSize)
	assert.Equal(t, mpu, patched.MaxParallelUpdates)
}
