package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"

	"wellcheck/internal/checkin"
)

func TestBuildPrompt(t *testing.T) {
	morning := BuildPrompt(&checkin.CheckIn{ID: "abc", UserID: 3, Type: checkin.TypeMorning})
	assert.Equal(t, "/chat?checkin_id=abc", morning.URL)
	assert.Equal(t, "Time for your morning check-in. How are you feeling today?", morning.Body)

	midday := BuildPrompt(&checkin.CheckIn{
		ID:   "def",
		Type: checkin.TypeMidday,
		TriggerContext: datatypes.NewJSONType(checkin.TriggerContext{
			Reason:    "How are you feeling before the presentation?",
			CreatedBy: checkin.CreatedByAgent,
		}),
	})
	assert.Equal(t, "How are you feeling before the presentation?", midday.Body)

	plain := BuildPrompt(&checkin.CheckIn{ID: "ghi", Type: checkin.TypeMidday})
	assert.Equal(t, "How are things going?", plain.Body)

	evening := BuildPrompt(&checkin.CheckIn{ID: "jkl", Type: checkin.TypeEvening})
	assert.Contains(t, evening.Title, "Evening reflection")
}

func TestDecodePromptRoundTrip(t *testing.T) {
	b, err := json.Marshal(BuildPrompt(&checkin.CheckIn{ID: "abc", UserID: 3, Type: checkin.TypeEvening}))
	require.NoError(t, err)

	p, err := DecodePrompt(string(b))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), p.UserID)
	assert.Equal(t, checkin.TypeEvening, p.Type)

	_, err = DecodePrompt(`{"title":"x"}`)
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := &LogNotifier{Log: zap.New(core)}

	require.NoError(t, n.Notify(context.Background(), &checkin.CheckIn{ID: "abc", UserID: 3, Type: checkin.TypeMorning}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "check-in due", entry.Message)
	assert.Equal(t, "/chat?checkin_id=abc", entry.ContextMap()["url"])
}
