package flows

import (
	"context"
	"strings"
	"testing"

	"mindpathdev/access"
	"mindpathdev/panel"
	"mindpathdev/storage/jsonstore"
)

func newTestFlows(t *testing.T, provider *fakeProvider) (*Flows, *fakeTransport) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	users, err := jsonstore.ConnectUsers(ctx, jsonstore.StoreConnectProps{Logger: testLogger, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	scenarios, err := jsonstore.ConnectScenarios(ctx, jsonstore.StoreConnectProps{Logger: testLogger, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	transport := newFakeTransport()
	f := Connect(ctx, FlowsConnectProps{
		Logger:    testLogger,
		Transport: transport,
		Provider:  provider,
		Users:     users,
		Scenarios: scenarios,
		Access:    access.Connect(ctx, access.AccessConnectProps{Logger: testLogger, ProUserIDs: []int64{1}}),
		Jobs:      syncJobs{},
		Tracker:   panel.NewTracker(),
	})
	return f, transport
}

func TestScenarioStageTwoGatedOnStageOne(t *testing.T) {
	provider := &fakeProvider{reply: "===STAGE2===\nпрогноз развития"}
	f, transport := newTestFlows(t, provider)
	ctx := context.Background()
	ev := panel.Event{UserID: 1, ChatID: 1}

	if err := f.HandleCallback(ctx, ev, "scn:stage2"); err != nil {
		t.Fatal(err)
	}
	if got := transport.last().text; !strings.Contains(got, "Сначала нужно пройти этап 1") {
		t.Fatalf("expected stage-1 gate message, got %q", got)
	}
	if provider.callCount() != 0 {
		t.Fatal("gated stage must not call the backend")
	}
}

func TestScenarioStageTwoCachedAfterFirstGeneration(t *testing.T) {
	provider := &fakeProvider{reply: "===STAGE2===\nпрогноз развития"}
	f, transport := newTestFlows(t, provider)
	ctx := context.Background()
	ev := panel.Event{UserID: 1, ChatID: 1}

	qa := []jsonstore.QAPair{{Q: "Мой возраст —", A: "30"}}
	if err := f.scenarios.UpsertStage1(ctx, ev.UserID, qa, "полный анализ этапа 1", "выжимка"); err != nil {
		t.Fatal(err)
	}

	if err := f.HandleCallback(ctx, ev, "scn:stage2"); err != nil {
		t.Fatal(err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("backend calls = %d, want 1", provider.callCount())
	}
	// Stage 1's analysis travels as system context, the stage prompt as
	// the user message.
	if !strings.Contains(provider.lastSystem, "Контекст:\nполный анализ этапа 1") {
		t.Fatalf("stage 1 context missing from system prompt: %q", provider.lastSystem)
	}
	if !strings.Contains(provider.lastUser, "===STAGE2===") {
		t.Fatalf("stage prompt missing from user text: %q", provider.lastUser)
	}
	if got := transport.lastOfKind("long").text; !strings.Contains(got, "прогноз развития") {
		t.Fatalf("expected stage 2 text delivered, got %q", got)
	}

	rec, err := f.scenarios.Get(ctx, ev.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stage2 == nil || rec.Stage2.Text != "прогноз развития" {
		t.Fatalf("stage 2 not persisted: %+v", rec.Stage2)
	}

	// Second press serves the cache without another backend call.
	if err := f.HandleCallback(ctx, ev, "scn:stage2"); err != nil {
		t.Fatal(err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("cached stage called backend again, calls = %d", provider.callCount())
	}
	if got := transport.lastOfKind("long").text; !strings.Contains(got, "прогноз развития") {
		t.Fatalf("expected cached stage 2 text, got %q", got)
	}
}

func TestScenarioStageOneQuestionnairePersistsAndDelivers(t *testing.T) {
	provider := &fakeProvider{reply: "===FULL===\nполный анализ\n===SUMMARY===\nкороткая выжимка"}
	f, transport := newTestFlows(t, provider)
	ctx := context.Background()
	ev := panel.Event{UserID: 1, ChatID: 1}

	if err := f.HandleCallback(ctx, ev, "scn:start"); err != nil {
		t.Fatal(err)
	}
	answers := []string{"30", "Россия", "женат", "спорт, книги, музыка", "разработчик", "дом — работа — дом", "свой проект"}
	for _, a := range answers {
		handled, err := f.HandleText(ctx, ev, a)
		if err != nil || !handled {
			t.Fatalf("answer %q: handled=%v err=%v", a, handled, err)
		}
	}

	if provider.callCount() != 1 {
		t.Fatalf("backend calls = %d, want 1", provider.callCount())
	}

	rec, err := f.scenarios.Get(ctx, ev.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || !rec.HasStage1() {
		t.Fatal("stage 1 not persisted")
	}
	if len(rec.Stage1.QA) != len(answers) {
		t.Fatalf("persisted %d answers, want %d", len(rec.Stage1.QA), len(answers))
	}
	if rec.Stage1.AnalysisFull != "полный анализ" || rec.Stage1.AnalysisShort != "короткая выжимка" {
		t.Fatalf("markers not parsed: %+v", rec.Stage1)
	}
	if got := transport.lastOfKind("long").text; !strings.Contains(got, "полный анализ") {
		t.Fatalf("expected analysis delivered, got %q", got)
	}

	// The session is torn down; stray text falls through to no flow.
	handled, err := f.HandleText(ctx, ev, "ещё текст")
	if err != nil {
		t.Fatal(err)
	}
	if handled {
		t.Fatal("finished questionnaire must not keep consuming text")
	}
}

func TestScenarioDryRunKeepsQuestionnaireAndGate(t *testing.T) {
	provider := &fakeProvider{}
	f, transport := newTestFlows(t, provider)
	f.dryRun = true
	ctx := context.Background()
	ev := panel.Event{UserID: 1, ChatID: 1}

	if err := f.HandleCallback(ctx, ev, "scn:start"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(f.scenario.engine.questions); i++ {
		if _, err := f.HandleText(ctx, ev, "ответ"); err != nil {
			t.Fatal(err)
		}
	}

	if provider.callCount() != 0 {
		t.Fatal("dry mode must not call the backend")
	}
	if got := transport.lastOfKind("long").text; !strings.Contains(got, "FINAL PROMPT") {
		t.Fatalf("expected assembled prompt, got %q", got)
	}

	rec, err := f.scenarios.Get(ctx, ev.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Stage1 == nil || len(rec.Stage1.QA) != len(f.scenario.engine.questions) {
		t.Fatalf("dry run must persist the questionnaire: %+v", rec)
	}
	// No analysis text, so stages 2 and 3 stay gated.
	if rec.HasStage1() {
		t.Fatal("dry run must not open the stage 2/3 gate")
	}
}

func TestScenarioLockedForNonProUser(t *testing.T) {
	provider := &fakeProvider{reply: "===STAGE2===\nтекст"}
	f, transport := newTestFlows(t, provider)
	ctx := context.Background()
	ev := panel.Event{UserID: 42, ChatID: 42}

	if err := f.HandleCallback(ctx, ev, "scn:stage2"); err != nil {
		t.Fatal(err)
	}
	if got := transport.last().text; !strings.Contains(got, "PRO") {
		t.Fatalf("expected PRO lock message, got %q", got)
	}
	if provider.callCount() != 0 {
		t.Fatal("locked user must not reach the backend")
	}
}
