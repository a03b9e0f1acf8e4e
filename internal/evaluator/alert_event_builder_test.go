package evaluator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAlertEvent(t *testing.T) {
	builder := NewAlertEventBuilder("B-204", "resident-1")
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	builder.now = func() time.Time { return fixed }

	trigger := BuildClassifierTrigger(models.EventTypeSuspectedFall, models.EventFall, 0.928, 0.8)
	event, err := builder.BuildAlertEvent(models.EventTypeSuspectedFall, CategorySafety, models.AlertLevelEmergency, trigger)
	require.NoError(t, err)

	_, err = uuid.Parse(event.EventID)
	assert.NoError(t, err)
	assert.Equal(t, "B-204", event.NodeID)
	assert.Equal(t, "resident-1", event.OccupantID)
	assert.Equal(t, models.AlertStatusActive, event.AlertStatus)
	assert.Equal(t, fixed, event.TriggeredAt)
	assert.Equal(t, fixed, event.CreatedAt)
	assert.Nil(t, event.AcknowledgedAt)
	assert.Equal(t, "Node B-204: event classifier reports a probable fall (92.8% confidence).", event.Narrative)
	assert.Equal(t, "Immediate warden dispatch is mandatory.", event.RecommendedAction)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(event.TriggerData), &decoded))
	assert.Equal(t, "classifier", decoded["source"])
	assert.Equal(t, "fall", decoded["class"])
	assert.NotContains(t, decoded, "distance")
}

func TestBuildAlertEvent_UniqueIDs(t *testing.T) {
	builder := NewAlertEventBuilder("A-101", "")
	a, err := builder.BuildAlertEvent(models.EventTypePhysicalAlert, CategorySafety, models.AlertLevelAlert, nil)
	require.NoError(t, err)
	b, err := builder.BuildAlertEvent(models.EventTypePhysicalAlert, CategorySafety, models.AlertLevelAlert, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, "null", a.TriggerData)
	assert.Equal(t, "Node A-101 raised an alert.", a.Narrative)
}

func TestDescribe_AllEventTypes(t *testing.T) {
	distance := 0.31
	mse, threshold := 0.4, 0.25
	tests := []struct {
		trigger *models.TriggerData
		want    string
	}{
		{&models.TriggerData{EventType: models.EventTypePhysicalAlert, Distance: &distance}, "within 0.31 m"},
		{&models.TriggerData{EventType: models.EventTypePhysicalEmergency}, "emergency state"},
		{&models.TriggerData{EventType: models.EventTypeProlongedStillness}, "prolonged stillness (unknown confidence)"},
		{&models.TriggerData{EventType: models.EventTypeReconstructionDrift, ReconstructionError: &mse, Threshold: &threshold}, "reconstruction error 0.400, threshold 0.250"},
		{BuildDriftTrigger([]float64{11, 12.4, 13}, 10), "drift scores 11.0, 12.4, 13.0"},
		{&models.TriggerData{EventType: "Custom"}, "raised Custom"},
	}
	for _, tt := range tests {
		t.Run(tt.trigger.EventType, func(t *testing.T) {
			narrative, action := describe("B-204", tt.trigger)
			assert.Contains(t, narrative, tt.want)
			assert.NotEmpty(t, action)
		})
	}
}
