package coach

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

func TestSessionStore_GetOrCreate(t *testing.T) {
	store, err := NewSessionStore(4)
	if err != nil {
		t.Fatalf("NewSessionStore failed: %v", err)
	}

	s1, created := store.GetOrCreate("whatsapp:+821012345678")
	if !created {
		t.Error("first access should create")
	}
	s2, created := store.GetOrCreate("whatsapp:+821012345678")
	if created || s1 != s2 {
		t.Error("second access should return the same session")
	}
	if s1.Profile().Snapshot().HeightCM == nil {
		t.Error("new sessions start with the default profile")
	}
	if s1.Intensity() != models.IntensityMedium {
		t.Errorf("Intensity() = %q", s1.Intensity())
	}
}

func TestSessionStore_CreateGetDelete(t *testing.T) {
	store, _ := NewSessionStore(0)
	s := store.Create()
	if len(s.ID) != 34 {
		t.Errorf("unexpected session id %q", s.ID)
	}
	if got, ok := store.Get(s.ID); !ok || got != s {
		t.Error("Get should find created session")
	}
	if !store.Delete(s.ID) {
		t.Error("Delete should report existing session")
	}
	if store.Delete(s.ID) {
		t.Error("second Delete should report missing session")
	}
	if _, ok := store.Get(s.ID); ok {
		t.Error("deleted session still present")
	}
}

func TestSessionStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store, _ := NewSessionStore(2)
	store.GetOrCreate("a")
	store.GetOrCreate("b")
	store.Get("a")
	store.GetOrCreate("c")

	if _, ok := store.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := store.Get("a"); !ok {
		t.Error("a was used recently and should remain")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestSession_ResetKeepsOldLog(t *testing.T) {
	store, _ := NewSessionStore(1)
	s := store.Create()
	old := s.Log()
	old.Append(models.RoleUser, models.TextContent("x"))
	_ = s.SetIntensity(models.IntensityHigh)

	s.Reset()
	if s.Log() == old || s.Log().Len() != 0 {
		t.Error("Reset should start a new, empty log")
	}
	if old.Len() != 1 {
		t.Error("the previous log must not be modified")
	}
	if s.Intensity() != models.IntensityMedium {
		t.Error("Reset should restore the default intensity")
	}
	if err := s.SetIntensity("turbo"); err == nil {
		t.Error("SetIntensity should reject unknown values")
	}
}

// slowCompleter records the maximum number of concurrent calls.
type slowCompleter struct {
	active, peak int32
}

func (c *slowCompleter) Complete(ctx context.Context, req genai.Request) *genai.Response {
	n := atomic.AddInt32(&c.active, 1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&c.active, -1)
	return &genai.Response{Text: "ok"}
}

func TestSession_TurnsAreSerialized(t *testing.T) {
	completer := &slowCompleter{}
	o, err := NewOrchestrator(completer, Config{Estimator: EstimatorInline, Output: OutputText, UseProfile: true})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	store, _ := NewSessionStore(1)
	s := store.Create()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Turn(context.Background(), o, "바나나", "")
		}()
	}
	wg.Wait()

	if completer.peak != 1 {
		t.Errorf("peak concurrent turns = %d, want 1", completer.peak)
	}
	turns := s.Log().Turns()
	if len(turns) != 10 {
		t.Fatalf("log length = %d, want 10", len(turns))
	}
	for i, turn := range turns {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if turn.Role != want {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, want)
		}
	}
}

func TestSession_TurnUsesSelectedIntensityAndProfile(t *testing.T) {
	mock := &mockCompleter{coaching: &genai.Response{Text: "ok"}}
	o, _ := NewOrchestrator(mock, Config{Estimator: EstimatorNone, Output: OutputText, UseProfile: true})
	store, _ := NewSessionStore(1)
	s := store.Create()
	_ = s.SetIntensity(models.IntensityHigh)
	age := 41
	if _, err := s.Profile().Update(models.ProfileUpdate{Age: &age}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	s.Turn(context.Background(), o, "커피", "")
	prompt := mock.Requests()[0].Prompt
	if !containsAll(prompt, "운동 강도: 강", "- 나이: 41세") {
		t.Errorf("prompt did not use session state:\n%s", prompt)
	}

	s.Turn(context.Background(), o, "커피", models.IntensityLow)
	if !containsAll(mock.Requests()[1].Prompt, "운동 강도: 약") {
		t.Error("explicit intensity should override the session selection")
	}
}

func TestProfileStore_Clear(t *testing.T) {
	ps := NewProfileStore()
	ps.Clear()
	if ps.Summary() != NoProfileLine {
		t.Errorf("Summary() after Clear = %q", ps.Summary())
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
