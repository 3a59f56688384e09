package sink

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
)

func TestWebhookSink_PostsEvents(t *testing.T) {
	var payloads []webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p webhookPayload
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewWebhook(ts.URL)
	s.Stage(StageEvent{
		LineItemID: "li-1",
		Stage:      model.StageSearch,
		Verdict:    &model.QualityGateVerdict{Stage: model.StageSearch, Passed: true, Score: 0.8},
		Timestamp:  time.Now(),
	})
	s.Final(FinalEvent{
		LineItemID: "li-1",
		Match:      &model.MatchResult{LineItemID: "li-1", QualityStatus: model.QualityPassed},
		Timestamp:  time.Now(),
	})

	require.Len(t, payloads, 2)
	assert.Equal(t, "stage", payloads[0].Type)
	assert.Equal(t, "li-1", payloads[0].Stage.LineItemID)
	assert.True(t, payloads[0].Stage.Verdict.Passed)
	assert.Equal(t, "final", payloads[1].Type)
	assert.Equal(t, model.QualityPassed, payloads[1].Final.Match.QualityStatus)
}

func TestWebhookSink_FailureDoesNotPanic(t *testing.T) {
	s := NewWebhook("http://127.0.0.1:1") // nothing listening
	assert.NotPanics(t, func() {
		s.Stage(StageEvent{LineItemID: "li-1", Stage: model.StageMatch})
	})
}

func TestMultiSink_FansOut(t *testing.T) {
	var stages, finals int
	rec := &recordingSink{onStage: func() { stages++ }, onFinal: func() { finals++ }}

	m := Multi{rec, rec, Discard{}}
	m.Stage(StageEvent{LineItemID: "li-1"})
	m.Final(FinalEvent{LineItemID: "li-1"})

	assert.Equal(t, 2, stages)
	assert.Equal(t, 2, finals)
}

type recordingSink struct {
	onStage func()
	onFinal func()
}

func (r *recordingSink) Stage(StageEvent) { r.onStage() }
func (r *recordingSink) Final(FinalEvent) { r.onFinal() }
