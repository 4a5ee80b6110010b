package jsonstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	profileCooldownDays  = 7
	NutritionWeeklyLimit = 3
	timeDisplayFormat    = "02.01.2006 15:04 UTC"
)

type usersDoc struct {
	Users map[string]*UserRecord `json:"users"`
}

type UserRecord struct {
	TelegramUserID int64          `json:"telegram_user_id"`
	Profile        *ProfileResult `json:"profile,omitempty"`
	FreeUsage      *FreeUsage     `json:"free_usage,omitempty"`
}

type ProfileResult struct {
	CompletedAt   time.Time      `json:"completed_at"`
	Answers       map[int]string `json:"answers"`
	ReportFull    string         `json:"report_full,omitempty"`
	ReportSummary string         `json:"report_summary,omitempty"`
}

type FreeUsage struct {
	Nutrition *WeeklyUsage `json:"nutrition,omitempty"`
}

type WeeklyUsage struct {
	WeekStart string `json:"week_start"`
	Count     int    `json:"count"`
}

// Users holds per-user documents: completed profile results and
// free-tier usage counters. Partial updates merge into the record;
// only the field being written is replaced.
type Users struct {
	file *docFile
}

func ConnectUsers(ctx context.Context, args StoreConnectProps) (*Users, error) {
	ctx, end := connectSpan(ctx, "ConnectUsers")
	defer end()

	file, err := newDocFile(ctx, args, "users.json")
	if err != nil {
		return nil, err
	}
	args.Logger.Logger(ctx).Info("[JSONStore] Users store started", zap.String("path", file.path))
	return &Users{file: file}, nil
}

func (s *Users) loadDoc(ctx context.Context) *usersDoc {
	doc := &usersDoc{}
	s.file.load(ctx, doc)
	if doc.Users == nil {
		doc.Users = map[string]*UserRecord{}
	}
	return doc
}

func (doc *usersDoc) user(userID int64) *UserRecord {
	key := strconv.FormatInt(userID, 10)
	u := doc.Users[key]
	if u == nil {
		u = &UserRecord{TelegramUserID: userID}
		doc.Users[key] = u
	}
	u.TelegramUserID = userID
	return u
}

func (s *Users) Get(ctx context.Context, userID int64) (*UserRecord, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	return doc.Users[strconv.FormatInt(userID, 10)], nil
}

// SaveProfileResult replaces the user's profile field, keeping the rest
// of the record intact.
func (s *Users) SaveProfileResult(ctx context.Context, userID int64, answers map[int]string, full, summary string) error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	u := doc.user(userID)
	u.Profile = &ProfileResult{
		CompletedAt:   utcNow(),
		Answers:       answers,
		ReportFull:    full,
		ReportSummary: summary,
	}
	return s.file.save(ctx, doc)
}

// CanStartProfile enforces the free-tier cooldown of one profile test
// per week.
func (s *Users) CanStartProfile(ctx context.Context, userID int64) (bool, string, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return false, "", err
	}
	return canStartProfileAt(u, utcNow())
}

func canStartProfileAt(u *UserRecord, now time.Time) (bool, string, error) {
	if u == nil || u.Profile == nil || u.Profile.CompletedAt.IsZero() {
		return true, "", nil
	}

	nextAllowed := u.Profile.CompletedAt.Add(profileCooldownDays * 24 * time.Hour)
	if !now.Before(nextAllowed) {
		return true, "", nil
	}

	remaining := nextAllowed.Sub(now)
	hours := int(remaining.Hours())
	days := hours / 24
	hours = hours % 24

	msg := fmt.Sprintf(
		"⏳ Психологический портрет в бесплатной версии можно проходить <b>1 раз в неделю</b>.\n\n"+
			"Следующая попытка будет доступна: <b>%s</b>.\n"+
			"Осталось примерно: <b>%d д %d ч</b>.",
		nextAllowed.UTC().Format(timeDisplayFormat), days, hours,
	)
	return false, msg, nil
}

// CanUseNutrition only checks the weekly counter, it never consumes.
func (s *Users) CanUseNutrition(ctx context.Context, userID int64, limit int) (bool, string, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return false, "", err
	}
	ok, msg := canUseNutritionAt(u, limit, utcNow())
	return ok, msg, nil
}

func canUseNutritionAt(u *UserRecord, limit int, now time.Time) (bool, string) {
	if u == nil || u.FreeUsage == nil || u.FreeUsage.Nutrition == nil {
		return true, ""
	}

	nut := u.FreeUsage.Nutrition
	// A new week means the counter no longer applies.
	if nut.WeekStart != weekStartUTC(now) {
		return true, ""
	}
	if nut.Count < limit {
		return true, ""
	}
	return false, nutritionLimitMessage(nut.WeekStart, now)
}

func nutritionLimitMessage(weekStart string, now time.Time) string {
	ws, err := time.Parse(time.RFC3339, weekStart)
	if err != nil {
		ws = now
	}
	nextWeek := ws.Add(7 * 24 * time.Hour)
	return fmt.Sprintf(
		"⏳ Подбор рациона в бесплатной версии доступен <b>3 раза в неделю</b>.\n\n"+
			"Лимит на эту неделю исчерпан. Следующие попытки будут доступны: <b>%s</b>.",
		nextWeek.UTC().Format(timeDisplayFormat),
	)
}

// ConsumeNutritionUse burns one attempt. Call only after a successful,
// non-empty generation.
func (s *Users) ConsumeNutritionUse(ctx context.Context, userID int64, limit int) (bool, string, error) {
	return s.consumeNutritionUseAt(ctx, userID, limit, utcNow())
}

func (s *Users) consumeNutritionUseAt(ctx context.Context, userID int64, limit int, now time.Time) (bool, string, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	doc := s.loadDoc(ctx)
	u := doc.user(userID)
	if u.FreeUsage == nil {
		u.FreeUsage = &FreeUsage{}
	}
	if u.FreeUsage.Nutrition == nil {
		u.FreeUsage.Nutrition = &WeeklyUsage{}
	}

	nut := u.FreeUsage.Nutrition
	week := weekStartUTC(now)
	if nut.WeekStart != week {
		nut.WeekStart = week
		nut.Count = 0
	}

	if nut.Count >= limit {
		return false, nutritionLimitMessage(nut.WeekStart, now), nil
	}

	nut.Count++
	if err := s.file.save(ctx, doc); err != nil {
		return false, "", err
	}
	return true, "", nil
}
