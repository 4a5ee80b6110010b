package jsonstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mindpathdev/logger"
)

var testLogger = logger.Connect(logger.LoggerConnectProps{})

func testUsers(t *testing.T) *Users {
	t.Helper()
	s, err := ConnectUsers(context.Background(), StoreConnectProps{Logger: testLogger, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUsersCorruptFileReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := ConnectUsers(ctx, StoreConnectProps{Logger: testLogger, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	u, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Fatalf("corrupt store returned a record: %+v", u)
	}

	// Writes recover the file.
	if err := s.SaveProfileResult(ctx, 42, map[int]string{0: "ответ"}, "полный", "краткий"); err != nil {
		t.Fatal(err)
	}
	u, err = s.Get(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Profile == nil || u.Profile.ReportFull != "полный" {
		t.Fatalf("record not readable after recovery: %+v", u)
	}
}

func TestSaveProfileResultKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	s := testUsers(t)

	if _, _, err := s.ConsumeNutritionUse(ctx, 7, NutritionWeeklyLimit); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfileResult(ctx, 7, map[int]string{0: "a"}, "full", "short"); err != nil {
		t.Fatal(err)
	}

	u, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if u.FreeUsage == nil || u.FreeUsage.Nutrition == nil || u.FreeUsage.Nutrition.Count != 1 {
		t.Fatalf("profile write clobbered usage: %+v", u.FreeUsage)
	}
	if u.Profile == nil || u.Profile.CompletedAt.IsZero() {
		t.Fatalf("profile not stamped: %+v", u.Profile)
	}
}

func TestProfileCooldown(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ok, _, err := canStartProfileAt(nil, now)
	if err != nil || !ok {
		t.Fatalf("fresh user must be allowed, ok=%v err=%v", ok, err)
	}

	u := &UserRecord{Profile: &ProfileResult{CompletedAt: now.Add(-24 * time.Hour)}}
	ok, msg, err := canStartProfileAt(u, now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("one day after completion must still be blocked")
	}
	if !strings.Contains(msg, "1 раз в неделю") || !strings.Contains(msg, "6 д") {
		t.Fatalf("cooldown message = %q", msg)
	}

	u.Profile.CompletedAt = now.Add(-profileCooldownDays * 24 * time.Hour)
	ok, _, err = canStartProfileAt(u, now)
	if err != nil || !ok {
		t.Fatalf("cooldown elapsed must allow, ok=%v err=%v", ok, err)
	}
}

func TestNutritionQuotaWeekRollover(t *testing.T) {
	// Tuesday of one week and Tuesday of the next.
	thisWeek := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	nextWeek := thisWeek.AddDate(0, 0, 7)

	u := &UserRecord{FreeUsage: &FreeUsage{Nutrition: &WeeklyUsage{
		WeekStart: weekStartUTC(thisWeek),
		Count:     NutritionWeeklyLimit,
	}}}

	ok, msg := canUseNutritionAt(u, NutritionWeeklyLimit, thisWeek)
	if ok {
		t.Fatal("exhausted quota must block within the same week")
	}
	if !strings.Contains(msg, "3 раза в неделю") {
		t.Fatalf("limit message = %q", msg)
	}

	ok, _ = canUseNutritionAt(u, NutritionWeeklyLimit, nextWeek)
	if !ok {
		t.Fatal("a new week must reset the quota")
	}
}

func TestConsumeNutritionUse(t *testing.T) {
	ctx := context.Background()
	s := testUsers(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < NutritionWeeklyLimit; i++ {
		consumed, _, err := s.consumeNutritionUseAt(ctx, 5, NutritionWeeklyLimit, now)
		if err != nil {
			t.Fatal(err)
		}
		if !consumed {
			t.Fatalf("attempt %d must consume", i+1)
		}
	}

	consumed, msg, err := s.consumeNutritionUseAt(ctx, 5, NutritionWeeklyLimit, now)
	if err != nil {
		t.Fatal(err)
	}
	if consumed {
		t.Fatal("over-limit attempt must not consume")
	}
	if !strings.Contains(msg, "Лимит на эту неделю исчерпан") {
		t.Fatalf("limit message = %q", msg)
	}

	// The following Monday opens a fresh bucket.
	nextWeek := now.AddDate(0, 0, 7)
	consumed, _, err = s.consumeNutritionUseAt(ctx, 5, NutritionWeeklyLimit, nextWeek)
	if err != nil {
		t.Fatal(err)
	}
	if !consumed {
		t.Fatal("new week must consume from a reset counter")
	}

	u, err := s.Get(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if u.FreeUsage.Nutrition.Count != 1 {
		t.Fatalf("count after rollover = %d, want 1", u.FreeUsage.Nutrition.Count)
	}
	if u.FreeUsage.Nutrition.WeekStart != weekStartUTC(nextWeek) {
		t.Fatalf("week start not rolled: %q", u.FreeUsage.Nutrition.WeekStart)
	}
}

func TestWeekStartUTC(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		// Monday itself.
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), "2026-03-09T00:00:00Z"},
		// Mid-week.
		{time.Date(2026, 3, 12, 23, 59, 0, 0, time.UTC), "2026-03-09T00:00:00Z"},
		// Sunday maps back to the previous Monday.
		{time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), "2026-03-09T00:00:00Z"},
	}
	for _, c := range cases {
		if got := weekStartUTC(c.in); got != c.want {
			t.Errorf("weekStartUTC(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
