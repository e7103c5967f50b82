package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/pkg/core"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		class   core.CapabilityClass
		op      Operation
		allowed bool
	}{
		{"basic moves", core.ClassBasic, OpMove, true},
		{"basic fires", core.ClassBasic, OpFire, true},
		{"basic storage", core.ClassBasic, OpPrivateStorage, true},
		{"basic independent gun", core.ClassBasic, OpIndependentGun, false},
		{"standard independent gun", core.ClassStandard, OpIndependentGun, true},
		{"standard max velocity", core.ClassStandard, OpSetMaxVelocity, true},
		{"standard event priority", core.ClassStandard, OpEventPriority, false},
		{"advanced event priority", core.ClassAdvanced, OpEventPriority, true},
		{"advanced custom condition", core.ClassAdvanced, OpCustomCondition, true},
		{"advanced team message", core.ClassAdvanced, OpSendMessage, false},
		{"team team message", core.ClassTeam, OpSendMessage, true},
		{"team broadcast", core.ClassTeam, OpBroadcastMessage, true},
		{"team foreign filesystem", core.ClassTeam, OpForeignFilesystem, false},
		{"team process spawn", core.ClassTeam, OpProcessSpawn, false},
		{"team network", core.ClassTeam, OpNetworkAccess, false},
		{"team peer state", core.ClassTeam, OpPeerStateAccess, false},
		{"unknown operation", core.ClassTeam, opCount + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.class, tt.op)
			assert.Equal(t, tt.allowed, Allowed(tt.class, tt.op))
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrSecurityViolation)
			}
		})
	}
}

func TestCheck_IsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Error(t, Check(core.ClassBasic, OpSendMessage))
		assert.NoError(t, Check(core.ClassTeam, OpSendMessage))
	}
}

func TestValidateIntent(t *testing.T) {
	target := "beta"
	text := "hello"

	tests := []struct {
		name    string
		class   core.CapabilityClass
		cmd     core.IntentCommand
		wantErr bool
	}{
		{
			name:  "basic plain movement",
			class: core.ClassBasic,
			cmd: core.IntentCommand{
				DistanceRemaining: 100,
				BodyTurnRemaining: 0.5,
				Scan:              true,
				OutputText:        &text,
				Bullets:           []core.BulletCommand{{Power: 1, BulletID: 1}},
			},
		},
		{
			name:    "basic adjusting gun",
			class:   core.ClassBasic,
			cmd:     core.IntentCommand{AdjustGunForBodyTurn: true},
			wantErr: true,
		},
		{
			name:    "basic tuning velocity",
			class:   core.ClassBasic,
			cmd:     core.IntentCommand{MaxVelocity: 4},
			wantErr: true,
		},
		{
			name:  "standard tuning velocity and radar",
			class: core.ClassStandard,
			cmd:   core.IntentCommand{MaxVelocity: 4, MaxTurnRate: 0.1, AdjustRadarForGunTurn: true},
		},
		{
			name:    "advanced direct message",
			class:   core.ClassAdvanced,
			cmd:     core.IntentCommand{TeamMessages: []core.TeamMessage{{Sender: "alpha", Recipient: &target}}},
			wantErr: true,
		},
		{
			name:  "team broadcast",
			class: core.ClassTeam,
			cmd:   core.IntentCommand{TeamMessages: []core.TeamMessage{{Sender: "alpha"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntent(tt.class, &tt.cmd)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrSecurityViolation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "fire", OpFire.String())
	assert.Equal(t, "operation(200)", Operation(200).String())
}
