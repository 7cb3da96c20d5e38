package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestUpdateComponent(t *testing.T) {
	resetHealth()

	UpdateComponent(ComponentStore, true, "open")
	UpdateComponent(ComponentStore, false, "closed")

	comp := healthChecker.components[ComponentStore]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "closed", comp.Message)
	assert.Len(t, healthChecker.components, 1)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name: "all healthy",
			setup: func() {
				UpdateComponent(ComponentAPI, true, "")
				UpdateComponent(ComponentStore, true, "")
			},
			wantStatus: "healthy",
		},
		{
			name: "one unhealthy",
			setup: func() {
				UpdateComponent(ComponentAPI, true, "")
				UpdateComponent(ComponentStore, false, "disk full")
			},
			wantStatus: "unhealthy",
		},
		{
			name:       "nothing registered",
			setup:      func() {},
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			SetVersion("0.1.0")
			tt.setup()

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, "0.1.0", health.Version)
			assert.NotEmpty(t, health.Uptime)
		})
	}
}

func TestGetHealth_UnhealthyMessage(t *testing.T) {
	resetHealth()
	UpdateComponent(ComponentStore, false, "disk full")

	assert.Equal(t, "unhealthy: disk full", GetHealth().Components[ComponentStore])
}

func TestGetReadiness(t *testing.T) {
	t.Run("all critical ready", func(t *testing.T) {
		resetHealth()
		UpdateComponent(ComponentStore, true, "")
		UpdateComponent(ComponentDispatcher, true, "")
		UpdateComponent(ComponentAPI, true, "")

		r := GetReadiness()
		assert.Equal(t, "ready", r.Status)
		assert.Empty(t, r.Message)
	})

	t.Run("missing critical component", func(t *testing.T) {
		resetHealth()
		UpdateComponent(ComponentAPI, true, "")

		r := GetReadiness()
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "not registered", r.Components[ComponentStore])
		assert.NotEmpty(t, r.Message)
	})

	t.Run("critical component unhealthy", func(t *testing.T) {
		resetHealth()
		UpdateComponent(ComponentStore, true, "")
		UpdateComponent(ComponentDispatcher, false, "stopped")
		UpdateComponent(ComponentAPI, true, "")

		r := GetReadiness()
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "not ready: stopped", r.Components[ComponentDispatcher])
		assert.Equal(t, "waiting for dispatcher", r.Message)
	})
}

func TestRegisterCritical(t *testing.T) {
	resetHealth()
	UpdateComponent(ComponentStore, true, "")
	UpdateComponent(ComponentDispatcher, true, "")
	UpdateComponent(ComponentAPI, true, "")

	RegisterCritical(ComponentCoordinator)
	RegisterCritical(ComponentCoordinator)
	assert.Len(t, healthChecker.critical, 4)

	r := GetReadiness()
	assert.Equal(t, "not_ready", r.Status)
	assert.Equal(t, "waiting for coordinator initialization", r.Message)

	UpdateComponent(ComponentCoordinator, true, "HTTP 200 OK")
	assert.Equal(t, "ready", GetReadiness().Status)
}
