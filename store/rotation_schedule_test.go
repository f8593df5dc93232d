package store

import (
	"context"
	"testing"
	"time"

	"github.com/legit-games/secrets-service/models"
)

func TestRotationScheduleStore_DueAndAdvance(t *testing.T) {
	db, err := getTestGormDB()
	if err != nil {
		t.Skip("No database connection available")
	}
	schedules := NewRotationScheduleStore(db)
	ctx := context.Background()
	secretID := uniqueTestID("rotsec")
	t.Cleanup(func() {
		db.Exec(`DELETE FROM rotation_schedules WHERE secret_id LIKE 'rotsec-%'`)
	})

	past := time.Now().UTC().Add(-time.Hour)
	sched, err := schedules.Create(ctx, secretID, models.RotationDaily, 0, models.RotationGenerated, past)
	if err != nil {
		t.Fatal(err)
	}

	due, err := schedules.ListDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !containsSchedule(due, sched.ID) {
		t.Fatal("overdue schedule not listed")
	}

	// Advancing past now takes it off the due list.
	next := time.Now().UTC().Add(24 * time.Hour)
	if err := schedules.MarkRotated(ctx, sched.ID, time.Now().UTC(), next); err != nil {
		t.Fatal(err)
	}
	due, err = schedules.ListDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if containsSchedule(due, sched.ID) {
		t.Fatal("advanced schedule still listed as due")
	}
	got, err := schedules.Get(ctx, secretID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRotation == nil {
		t.Fatal("last_rotation not stamped")
	}

	// Paused and failed schedules are never due.
	if err := db.Model(&models.RotationSchedule{}).Where("id = ?", sched.ID).
		Update("next_rotation", past).Error; err != nil {
		t.Fatal(err)
	}
	if err := schedules.Pause(ctx, sched.ID); err != nil {
		t.Fatal(err)
	}
	due, _ = schedules.ListDue(ctx, time.Now().UTC())
	if containsSchedule(due, sched.ID) {
		t.Fatal("paused schedule listed as due")
	}
	if err := schedules.Resume(ctx, sched.ID); err != nil {
		t.Fatal(err)
	}
	due, _ = schedules.ListDue(ctx, time.Now().UTC())
	if !containsSchedule(due, sched.ID) {
		t.Fatal("resumed overdue schedule not listed")
	}

	// Re-registering replaces the previous schedule for the secret.
	replacement, err := schedules.Create(ctx, secretID, models.RotationCustom, 5, models.RotationGenerated, next)
	if err != nil {
		t.Fatal(err)
	}
	got, err = schedules.Get(ctx, secretID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != replacement.ID || got.Frequency != models.RotationCustom {
		t.Fatalf("replacement not in effect: %+v", got)
	}

	if err := schedules.Delete(ctx, secretID); err != nil {
		t.Fatal(err)
	}
	if _, err := schedules.Get(ctx, secretID); err != ErrNotFound {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
}

func containsSchedule(rows []models.RotationSchedule, id string) bool {
	for _, r := range rows {
		if r.ID == id {
			return true
		}
	}
	return false
}
