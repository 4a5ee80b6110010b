package jsonstore

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type scenarioDoc struct {
	Users map[string]*ScenarioRecord `json:"users"`
}

type ScenarioRecord struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Stage1    *Stage1Result `json:"stage1,omitempty"`
	Stage2    *StageText    `json:"stage2,omitempty"`
	Stage3    *StageText    `json:"stage3,omitempty"`
}

type QAPair struct {
	Q string `json:"q"`
	A string `json:"a"`
}

type Stage1Result struct {
	QA            []QAPair `json:"qa"`
	AnalysisFull  string   `json:"analysis_full,omitempty"`
	AnalysisShort string   `json:"analysis_short,omitempty"`
}

type StageText struct {
	Text string `json:"text"`
}

// HasStage1 reports whether a computed stage-1 analysis exists; stages 2
// and 3 are gated on it.
func (r *ScenarioRecord) HasStage1() bool {
	return r != nil && r.Stage1 != nil && r.Stage1.AnalysisFull != ""
}

// Scenarios stores the per-user results of the three scenario-analysis
// stages. Each stage field is fully replaced on upsert; the others are
// left alone.
type Scenarios struct {
	file *docFile
}

func ConnectScenarios(ctx context.Context, args StoreConnectProps) (*Scenarios, error) {
	ctx, end := connectSpan(ctx, "ConnectScenarios")
	defer end()

	file, err := newDocFile(ctx, args, "pro_scenario.json")
	if err != nil {
		return nil, err
	}
	args.Logger.Logger(ctx).Info("[JSONStore] Scenario store started", zap.String("path", file.path))
	return &Scenarios{file: file}, nil
}

func (s *Scenarios) loadDoc(ctx context.Context) *scenarioDoc {
	doc := &scenarioDoc{}
	s.file.load(ctx, doc)
	if doc.Users == nil {
		doc.Users = map[string]*ScenarioRecord{}
	}
	return doc
}

func (doc *scenarioDoc) user(userID int64) *ScenarioRecord {
	key := strconv.FormatInt(userID, 10)
	r := doc.Users[key]
	if r == nil {
		r = &ScenarioRecord{}
		doc.Users[key] = r
	}
	return r
}

func (s *Scenarios) Get(ctx context.Context, userID int64) (*ScenarioRecord, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	return doc.Users[strconv.FormatInt(userID, 10)], nil
}

func (s *Scenarios) UpsertStage1(ctx context.Context, userID int64, qa []QAPair, full, short string) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	r := doc.user(userID)
	r.UpdatedAt = utcNow()
	r.Stage1 = &Stage1Result{QA: qa, AnalysisFull: full, AnalysisShort: short}
	return s.file.save(ctx, doc)
}

func (s *Scenarios) UpsertStage2(ctx context.Context, userID int64, text string) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	r := doc.user(userID)
	r.UpdatedAt = utcNow()
	r.Stage2 = &StageText{Text: text}
	return s.file.save(ctx, doc)
}

func (s *Scenarios) UpsertStage3(ctx context.Context, userID int64, text string) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	r := doc.user(userID)
	r.UpdatedAt = utcNow()
	r.Stage3 = &StageText{Text: text}
	return s.file.save(ctx, doc)
}
